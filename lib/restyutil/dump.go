// Package restyutil holds debugging helpers for resty clients. Portal
// scraping breaks whenever the markup drifts, and the fastest way to
// diagnose that is a directory of raw request/response exchanges.
package restyutil

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// DumpToDir writes every exchange the client performs into dir, one
// numbered file per request. The directory is recreated on each call so
// a run's dump starts clean. Intended for CLI debugging, not production.
func DumpToDir(client *resty.Client, dir string) error {
	os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := atomic.AddUint64(&counter, 1)
		name := filepath.Join(dir, fmt.Sprintf("%04d.http", id))
		err := os.WriteFile(name, []byte(formatExchange(res)), 0o600)
		if err != nil {
			slog.Warn("failed to write exchange dump", "file", name, "err", err)
		}
		return nil
	})
	return nil
}

func formatExchange(res *resty.Response) string {
	var b strings.Builder

	fmt.Fprintf(&b, "---- REQUEST ----\n%s %s\n", res.Request.Method, res.Request.URL)
	if res.Request.RawRequest != nil {
		writeHeaders(&b, res.Request.RawRequest.Header)
		b.WriteString("\n")
		b.WriteString(requestBody(res.Request.RawRequest))
	}

	fmt.Fprintf(&b, "\n---- RESPONSE ----\n%s\n", res.Status())
	writeHeaders(&b, res.Header())
	b.WriteString("\n")
	b.Write(res.Body())
	b.WriteString("\n")

	return b.String()
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	for key, values := range headers {
		for _, value := range values {
			fmt.Fprintf(b, "%s: %s\n", key, value)
		}
	}
}

func requestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("(failed to get request body: %s)", err)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("(failed to read request body: %s)", err)
	}
	return string(raw) + "\n"
}
