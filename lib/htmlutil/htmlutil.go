package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Text returns the combined text of every node in the selection with
// whitespace collapsed to single spaces.
func Text(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, node := range sel.Nodes {
		getTextRecursive(node, &buffer)
		buffer.WriteString(" ")
	}
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(buffer.String(), " "))
}

// DirectText returns only the text nodes that are immediate children of
// the selection's first node, skipping nested tooltip/script markup.
func DirectText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	var buffer bytes.Buffer
	for child := sel.Nodes[0].FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			buffer.WriteString(child.Data)
		}
	}
	return strings.TrimSpace(buffer.String())
}

// FirstMatch tries each selector in order against the document and
// returns the selection of the first one that yields at least one node.
// The returned index identifies the winning selector; -1 means every
// strategy came up empty.
func FirstMatch(doc *goquery.Document, selectors ...string) (*goquery.Selection, int) {
	for i, selector := range selectors {
		sel := doc.Find(selector)
		if len(sel.Nodes) > 0 {
			return sel, i
		}
	}
	return nil, -1
}

// AbsoluteURL resolves href against base. Relative hrefs keep the base's
// scheme and host, absolute ones pass through untouched.
func AbsoluteURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(parsed).String()
}
