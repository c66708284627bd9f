package mev

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"expedientes-backend/lib/browser"
	"expedientes-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	cookies []browser.Cookie
	lastReq browser.RenderLoginRequest
	err     error
}

func (f *fakeRenderer) RenderLogin(ctx context.Context, req browser.RenderLoginRequest) ([]browser.Cookie, error) {
	f.lastReq = req
	return f.cookies, f.err
}

func newTestClient(t *testing.T, serverUrl string, renderer browser.LoginRenderer) *Client {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "mev"})
	t.Cleanup(cleanup)

	client, err := NewClient(ClientOptions{BaseUrl: serverUrl, Renderer: renderer})
	require.NoError(t, err)
	return client
}

func TestLogin(t *testing.T) {
	renderer := &fakeRenderer{cookies: []browser.Cookie{
		{Name: "ASP.NET_SessionId", Value: "sid-1", Domain: "mev.example"},
		{Name: "token", Value: "tk-1", Domain: "mev.example"},
	}}
	client := newTestClient(t, "https://mev.example", renderer)

	session, err := client.Login(context.Background(), "jdoe", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "sid-1", session.Cookies["ASP.NET_SessionId"])
	require.Equal(t, "tk-1", session.Cookies["token"])

	require.Equal(t, "jdoe", renderer.lastReq.Fields["#txtUsuario"])
	require.Equal(t, "hunter2", renderer.lastReq.Fields["#txtClave"])
	require.Equal(t, "#btnIngresar", renderer.lastReq.Submit)
}

func TestLoginWithoutSessionCookieFails(t *testing.T) {
	renderer := &fakeRenderer{cookies: []browser.Cookie{{Name: "other", Value: "x"}}}
	client := newTestClient(t, "https://mev.example", renderer)

	_, err := client.Login(context.Background(), "jdoe", "hunter2")
	require.ErrorIs(t, err, ErrLoginFailed)
}

// envelope encodes a page-method response the way ASP.NET does: the "d"
// member is a string holding the real JSON document.
func pageMethodEnvelope(t *testing.T, inner any) []byte {
	innerJson, err := json.Marshal(inner)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{"d": string(innerJson)})
	require.NoError(t, err)
	return outer
}

func trayRow(idc, ido int, number string) string {
	return fmt.Sprintf(`<tr data-idc='%d' data-ido='%d'>`+
		`<td>%s</td><td><b>DOE c/ ROE</b></td><td>Juzgado Civil y Comercial N&nbsp;1</td><td>9/4/2024</td>`+
		`</tr>`, idc, ido, number)
}

func TestFetchCasePage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Bandeja/ListaCausas.aspx/ObtenerCausas", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		require.Equal(t, float64(1), args["pagina"])

		w.Write(pageMethodEnvelope(t, map[string]any{
			"exito":   true,
			"cantPag": "7",
			"html":    trayRow(11, 2, "123456") + trayRow(12, 2, "123457"),
		}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeRenderer{})
	session := &Session{Cookies: map[string]string{"ASP.NET_SessionId": "sid"}}

	page, err := client.FetchCasePage(context.Background(), session, 1)
	require.NoError(t, err)
	require.Equal(t, 7, page.PageCount)
	require.Len(t, page.Cases, 2)

	require.Equal(t, Case{
		Idc:        "11",
		Ido:        "2",
		Number:     "123456",
		Caption:    "DOE c/ ROE",
		Office:     "Juzgado Civil y Comercial N 1",
		LastUpdate: "2024-04-09",
	}, page.Cases[0])
}

func TestFetchCasePageCountFromHiddenInput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Bandeja/ListaCausas.aspx/ObtenerCausas", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pageMethodEnvelope(t, map[string]any{
			"exito": true,
			"html":  trayRow(1, 1, "1") + `<input type='hidden' id='cantPag' value='4'/>`,
		}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeRenderer{})
	session := &Session{Cookies: map[string]string{}}

	page, err := client.FetchCasePage(context.Background(), session, 1)
	require.NoError(t, err)
	require.Equal(t, 4, page.PageCount)
}

func TestFetchAllCasesDeduplicates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Bandeja/ListaCausas.aspx/ObtenerCausas", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		page := int(args["pagina"].(float64))

		var html string
		switch page {
		case 1:
			html = trayRow(11, 2, "123456") + trayRow(12, 2, "123457")
		case 2:
			// the tray repeats case 12 and shows case 12 under a second
			// organism as well
			html = trayRow(12, 2, "123457") + trayRow(12, 3, "123457")
		case 3:
			html = trayRow(13, 2, "123458")
		}
		w.Write(pageMethodEnvelope(t, map[string]any{
			"exito": true, "cantPag": "3", "html": html,
		}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeRenderer{})
	session := &Session{Cookies: map[string]string{}}

	cases, err := client.FetchAllCases(context.Background(), session)
	require.NoError(t, err)

	keys := make([]string, len(cases))
	for i, entry := range cases {
		keys[i] = entry.Key()
	}
	require.Equal(t, []string{"11:2", "12:2", "12:3", "13:2"}, keys)
}

// A failing tray page is skipped, not fatal: the cases from every page
// that did answer still come back.
func TestFetchAllCasesSkipsFailedPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Bandeja/ListaCausas.aspx/ObtenerCausas", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		page := int(args["pagina"].(float64))

		if page == 2 {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		var html string
		switch page {
		case 1:
			html = trayRow(11, 2, "123456")
		case 3:
			html = trayRow(13, 2, "123458")
		}
		w.Write(pageMethodEnvelope(t, map[string]any{
			"exito": true, "cantPag": "3", "html": html,
		}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeRenderer{})
	session := &Session{Cookies: map[string]string{}}

	cases, err := client.FetchAllCases(context.Background(), session)
	require.NoError(t, err)

	keys := make([]string, len(cases))
	for i, entry := range cases {
		keys[i] = entry.Key()
	}
	require.Equal(t, []string{"11:2", "13:2"}, keys)
}

func TestFetchEvents(t *testing.T) {
	longText := strings.Repeat("a", 1500)

	mux := http.NewServeMux()
	mux.HandleFunc("/Bandeja/ListaCausas.aspx/ObtenerTramites", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		require.Equal(t, "11", args["idCausa"])
		require.Equal(t, "2", args["idOrganismo"])

		w.Write(pageMethodEnvelope(t, map[string]any{
			"exito": true,
			"html": `<tr><th>Fecha</th><th>Tipo</th><th>Descripción</th></tr>` +
				`<tr><td>5/2/2024</td><td>DESPACHO</td><td>Agréguese</td>` +
				`<td><a href='/docs/ver.aspx?id=7'>ver</a></td></tr>` +
				`<tr><td>1/2/2024</td><td>RESOLUCION</td><td>` + longText + `</td></tr>`,
		}))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, &fakeRenderer{})
	session := &Session{Cookies: map[string]string{}}

	events, err := client.FetchEvents(context.Background(), session, Case{Idc: "11", Ido: "2"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "2024-02-05", events[0].Date)
	require.Equal(t, "5/2/2024", events[0].RawDate)
	require.Equal(t, "DESPACHO", events[0].Type)
	require.Equal(t, server.URL+"/docs/ver.aspx?id=7", events[0].DocumentUrl)

	// free-text fields are bounded
	require.Len(t, []rune(events[1].Description), 1000)
}
