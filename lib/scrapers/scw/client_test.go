package scw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"expedientes-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverUrl string) *Client {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "scw"})
	t.Cleanup(cleanup)

	client, err := NewClient(ClientOptions{BaseUrl: serverUrl})
	require.NoError(t, err)
	return client
}

const loginPageHtml = `<html><body>
<form id="kc-form-login" action="/auth/login" method="post">
	<input type="hidden" name="session_code" value="sc-123"/>
	<input type="hidden" name="execution" value="ex-456"/>
	<input id="username" name="username" type="text"/>
	<input id="password" name="password" type="password"/>
</form>
</body></html>`

const listPageHtml = `<html><body>
<h1>Lista de Expedientes</h1>
<input type="hidden" name="javax.faces.ViewState" value="vs-1"/>
</body></html>`

func TestLoginFoldsCookiesAcrossRedirects(t *testing.T) {
	var loginPost *http.Request
	var loginForm map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("KEYCLOAK_IDENTITY")
		if err == nil && cookie.Value == "kc-id" {
			w.Write([]byte(listPageHtml))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "portal_session", Value: "ps-1"})
		w.Header().Set("Location", "/auth")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "AUTH_SESSION_ID", Value: "as-1"})
		w.Write([]byte(loginPageHtml))
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		loginPost = r
		loginForm = map[string]string{}
		for key := range r.PostForm {
			loginForm[key] = r.PostForm.Get(key)
		}
		http.SetCookie(w, &http.Cookie{Name: "KEYCLOAK_IDENTITY", Value: "kc-id"})
		w.Header().Set("Location", "/scw/consultaListaRelacionados.seam")
		w.WriteHeader(http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session, err := client.Login(context.Background(), "jdoe", "hunter2")
	require.NoError(t, err)

	// hidden sso state must be echoed back alongside the credentials
	require.NotNil(t, loginPost)
	require.Equal(t, "sc-123", loginForm["session_code"])
	require.Equal(t, "ex-456", loginForm["execution"])
	require.Equal(t, "jdoe", loginForm["username"])
	require.Equal(t, "hunter2", loginForm["password"])

	// cookies from every hop of both chains survive into the session
	require.Equal(t, "ps-1", session.Cookies["portal_session"])
	require.Equal(t, "as-1", session.Cookies["AUTH_SESSION_ID"])
	require.Equal(t, "kc-id", session.Cookies["KEYCLOAK_IDENTITY"])

	// the landing page's token primes the session for its first postback
	require.Equal(t, "vs-1", session.ViewState)

	// the login POST itself must already carry the pre-login cookies
	cookie, err := loginPost.Cookie("AUTH_SESSION_ID")
	require.NoError(t, err)
	require.Equal(t, "as-1", cookie.Value)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/auth")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(loginPageHtml))
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><form id="kc-form-login" action="/auth/login">
			<span>Invalid username or password.</span></form></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Login(context.Background(), "jdoe", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestOpenDetailExtractsCid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		// the clicked row announces itself as a self-named parameter
		control := "tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable:4:j_idt230"
		require.Equal(t, control, r.PostForm.Get(control))
		require.Equal(t, "vs-7", r.PostForm.Get("javax.faces.ViewState"))

		w.Header().Set("Location", "/scw/expediente.seam?cid=41")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/scw/expediente.seam", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<input type="hidden" name="javax.faces.ViewState" value="vs-8"/>
		</body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session := &Session{Cookies: map[string]string{}, ViewState: "vs-7"}

	view, err := client.OpenDetail(context.Background(), session, CaseRow{Number: "123/2024", Index: 4})
	require.NoError(t, err)
	require.Equal(t, "41", view.Cid)
	require.Equal(t, "vs-8", session.ViewState)
}

func TestOpenDetailWithoutCidFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		// stale ViewState: the portal re-renders the list instead of
		// navigating
		w.Write([]byte(listPageHtml))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session := &Session{Cookies: map[string]string{}, ViewState: "stale"}

	_, err := client.OpenDetail(context.Background(), session, CaseRow{Number: "123/2024", Index: 0})
	require.ErrorIs(t, err, ErrNavigationFailed)
}

func TestResolveLocationUpgradesScheme(t *testing.T) {
	resolved, err := resolveLocation("https://portal.example/scw/a.seam", "http://portal.example/scw/b.seam")
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/scw/b.seam", resolved)

	// plain-http bases (local fixtures) are left alone
	resolved, err = resolveLocation("http://127.0.0.1:9/a", "/b")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9/b", resolved)
}
