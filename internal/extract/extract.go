// Package extract turns fetched source payloads into plain text plus the
// page metadata the analysis prompt cares about.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

const (
	mimeHTML  = "text/html"
	mimeXHTML = "application/xhtml+xml"
	mimePlain = "text/plain"
	mimePDF   = "application/pdf"
)

const (
	maxLinks      = 200
	maxSchemaTags = 20
)

// Document is the text pulled from a fetched source.
type Document struct {
	MimeType    string   `json:"mimeType"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Text        string   `json:"text"`
	Links       []string `json:"links,omitempty"`
	// SchemaTypes lists schema.org @type values declared in JSON-LD blocks,
	// e.g. "VeterinaryCare" or "LocalBusiness".
	SchemaTypes []string `json:"schemaTypes,omitempty"`
}

// ErrUnsupported is returned for payloads none of the extractors handle.
var ErrUnsupported = errors.New("unsupported mime type")

// FromBytes extracts a Document from a payload. fileName and the payload
// itself are used to guess a missing or generic content type. baseURL
// resolves relative links in HTML and may be empty.
func FromBytes(ctx context.Context, data []byte, contentType, fileName, baseURL string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	mt := mediaType(contentType, fileName, data)

	var (
		doc Document
		err error
	)
	switch mt {
	case mimeHTML, mimeXHTML:
		doc, err = fromHTML(data, baseURL)
	case mimePlain:
		doc.Text = strings.TrimSpace(string(data))
	case mimePDF:
		doc.Text, err = fromPDF(data)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, mt)
	}
	if err != nil {
		return Document{}, fmt.Errorf("extract %s: %w", mt, err)
	}
	doc.MimeType = mt
	return doc, nil
}

func fromHTML(data []byte, baseURL string) (Document, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Title:       squash(page.Find("title").First().Text()),
		Description: metaContent(page, `meta[name="description"]`, `meta[property="og:description"]`),
		Language:    strings.ToLower(strings.TrimSpace(page.Find("html").AttrOr("lang", ""))),
		SchemaTypes: schemaTypes(page),
		Links:       links(page, baseURL),
	}

	body := page.Find("body")
	body.Find("script, style, noscript, template, svg").Remove()
	doc.Text = squash(body.Text())
	return doc, nil
}

// metaContent returns the first non-empty content attribute among selectors.
func metaContent(page *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := squash(page.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

// links returns absolute http(s) links without fragments, deduplicated in
// document order.
func links(page *goquery.Document, baseURL string) []string {
	base, _ := url.Parse(baseURL)
	var out []string
	page.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := absolute(base, s.AttrOr("href", ""))
		if link != "" && !slices.Contains(out, link) {
			out = append(out, link)
		}
		return len(out) < maxLinks
	})
	return out
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href[0] == '#' {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// schemaTypes collects @type values from JSON-LD blocks, including those
// nested in @graph. Malformed blocks are skipped.
func schemaTypes(page *goquery.Document) []string {
	var out []string
	add := func(v any) {
		switch t := v.(type) {
		case string:
			if t != "" && !slices.Contains(out, t) && len(out) < maxSchemaTags {
				out = append(out, t)
			}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok && !slices.Contains(out, s) && len(out) < maxSchemaTags {
					out = append(out, s)
				}
			}
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			add(node["@type"])
			walk(node["@graph"])
		case []any:
			for _, item := range node {
				walk(item)
			}
		}
	}
	page.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if json.Unmarshal([]byte(s.Text()), &v) == nil {
			walk(v)
		}
	})
	return out
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func fromPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return squash(string(text)), nil
}

// mediaType drops content-type parameters and falls back to the file
// extension, then content sniffing, when the server sent nothing useful.
func mediaType(contentType, fileName string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return mimePDF
	case ".html", ".htm":
		return mimeHTML
	case ".txt":
		return mimePlain
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
