package scw

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func listRowHtml(i int, number string) string {
	return fmt.Sprintf(`<tr>
		<td><a href="#" onclick="RichFaces.ajax('tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable:%d:j_idt230',event)">%s</a></td>
		<td>JUZGADO CIVIL 5</td>
		<td>PEREZ, JUAN c/ GOMEZ, ANA s/ DAÑOS</td>
		<td>En Letra</td>
		<td>12/3/2024</td>
	</tr>`, i, number)
}

func listRowsHtml(start, count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		b.WriteString(listRowHtml(start+i, fmt.Sprintf("%d/2024", start+i+100)))
	}
	return b.String()
}

func listPageHtmlWith(rows, total, viewState string) string {
	return `<html><body><h1>Lista de Expedientes</h1>
	<table id="tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable"><tbody>` + rows + `</tbody></table>
	<span>Se ha encontrado un total de ` + total + ` expediente(s)</span>
	<input type="hidden" name="javax.faces.ViewState" value="` + viewState + `"/>
	</body></html>`
}

func listAjaxFragment(rows, viewState string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><partial-response><changes>` +
		`<update id="tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable"><![CDATA[` +
		`<table id="tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable"><tbody>` + rows + `</tbody></table>` +
		`]]></update>` +
		`<update id="j_id1:javax.faces.ViewState:0"><![CDATA[` + viewState + `]]></update>` +
		`</changes></partial-response>`
}

func TestFetchCaseList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listPageHtmlWith(listRowHtml(0, "123/2024")+listRowHtml(1, "124/2024/1"), "1.096", "vs-1")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session := &Session{Cookies: map[string]string{}}

	list, err := client.FetchCaseList(context.Background(), session)
	require.NoError(t, err)

	require.Equal(t, 1096, list.Total)
	require.Equal(t, 73, list.PageCount())
	require.Equal(t, "vs-1", session.ViewState)
	require.Len(t, list.Rows, 2)

	require.Equal(t, CaseRow{
		Number:       "123/2024",
		Office:       "JUZGADO CIVIL 5",
		Caption:      "PEREZ, JUAN c/ GOMEZ, ANA s/ DAÑOS",
		Status:       "En Letra",
		LastUpdate:   "2024-03-12",
		Index:        0,
		ClickControl: "tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable:0:j_idt230",
	}, list.Rows[0])
	require.Equal(t, 1, list.Rows[1].Index)
}

func TestFetchAllCasesWalksEveryPage(t *testing.T) {
	var postbacks int
	var viewStates []string

	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(listPageHtmlWith(listRowsHtml(0, 15), "37", "vs-1")))
			return
		}

		require.NoError(t, r.ParseForm())
		require.Equal(t, "true", r.PostForm.Get("javax.faces.partial.ajax"))
		require.Equal(t, listNextControl, r.PostForm.Get("javax.faces.source"))
		require.Equal(t, "null", r.PostForm.Get("rfExt"))
		viewStates = append(viewStates, r.PostForm.Get("javax.faces.ViewState"))

		postbacks++
		switch postbacks {
		case 1:
			w.Write([]byte(listAjaxFragment(listRowsHtml(15, 15), "vs-2")))
		default:
			w.Write([]byte(listAjaxFragment(listRowsHtml(30, 7), "vs-3")))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session := &Session{Cookies: map[string]string{}}

	rows, err := client.FetchAllCases(context.Background(), session)
	require.NoError(t, err)

	// 37 cases at 15 per page means exactly two postbacks after page one
	require.Len(t, rows, 37)
	require.Equal(t, 2, postbacks)
	// each postback carries the token of the page before it
	require.Equal(t, []string{"vs-1", "vs-2"}, viewStates)
	require.Equal(t, "vs-3", session.ViewState)
	require.Equal(t, "130/2024", rows[30].Number)
}

func TestFetchAllCasesStopsOnEmptyPage(t *testing.T) {
	var postbacks int

	mux := http.NewServeMux()
	mux.HandleFunc("/scw/consultaListaRelacionados.seam", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// the portal claims three pages but only has one
			w.Write([]byte(listPageHtmlWith(listRowsHtml(0, 15), "45", "vs-1")))
			return
		}
		postbacks++
		w.Write([]byte(listAjaxFragment("", "vs-2")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	session := &Session{Cookies: map[string]string{}}

	rows, err := client.FetchAllCases(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, rows, 15)
	require.Equal(t, 1, postbacks)
}
