package fetcher

import (
	"bytes"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	xmlEncodingRe = regexp.MustCompile(`(?i)<\?xml[^>]*encoding=["']([A-Za-z0-9._-]+)["']`)
	metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([A-Za-z0-9._-]+)`)
)

// sniffLen bounds how far into a document the declared charset is looked for.
const sniffLen = 1024

// DetectCharset returns the charset declared by the Content-Type header, or
// failing that by an XML prolog or HTML meta tag in the first bytes of body.
// An empty result means none was declared.
func DetectCharset(body []byte, contentType string) string {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if cs := params["charset"]; cs != "" {
				return strings.ToLower(cs)
			}
		}
	}

	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if m := xmlEncodingRe.FindSubmatch(head); m != nil {
		return strings.ToLower(string(m[1]))
	}
	if m := metaCharsetRe.FindSubmatch(head); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return ""
}

// DecodeBody converts body to UTF-8 according to its declared charset. An
// unknown charset is an error; undeclared content must already be valid
// UTF-8 or is decoded as windows-1252, which covers the latin pages served by
// Spanish retailers.
func DecodeBody(body []byte, contentType string) (string, error) {
	cs := DetectCharset(body, contentType)
	switch cs {
	case "utf-8", "utf8":
		return string(body), nil
	case "":
		if utf8.Valid(body) {
			return string(body), nil
		}
		cs = "windows-1252"
	}

	enc, err := htmlindex.Get(cs)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: unsupported charset %q", cs)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: decode charset %q", cs)
	}
	return string(out), nil
}

// IsHTML reports whether a response should be treated as an HTML document.
func IsHTML(contentType, body string) bool {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			return mt == "text/html" || mt == "application/xhtml+xml"
		}
	}
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > sniffLen {
		trimmed = trimmed[:sniffLen]
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

// NormalizeHTML parses body and renders it back, so equivalent markup is
// stored in one stable form.
func NormalizeHTML(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse html")
	}
	out, err := doc.Html()
	if err != nil {
		return "", eris.Wrap(err, "fetcher: render html")
	}
	return out, nil
}

// Normalize prepares a response body for caching. HTML documents are
// re-rendered; XML and JSON payloads are kept verbatim.
func Normalize(res *Response) (string, error) {
	if !IsHTML(res.ContentType, res.Body) {
		return res.Body, nil
	}
	return NormalizeHTML(res.Body)
}

// Document parses cached HTML (or an HTML fragment) for selector queries.
func Document(content string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(content))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse document")
	}
	return doc, nil
}
