// Package htmlutil provides HTML processing utilities for profile scraping.
package htmlutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"
)

// Parse parses an HTML document into a goquery selection root.
func Parse(body []byte) (*goquery.Document, error) {
	root, err := xhtml.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// StripTags removes HTML tags and returns plain text.
func StripTags(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	content := tagPattern.ReplaceAllString(htmlContent, " ")
	content = html.UnescapeString(content)
	content = multiSpacePattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

// Title extracts the document title, falling back to og:title.
func Title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return OGTag(doc, "og:title")
}

// OGTag extracts a meta tag value by property or name.
func OGTag(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// IsNotFound detects the "no such user" pages served with a 200 status.
func IsNotFound(text string) bool {
	lower := strings.ToLower(text)
	patterns := []string{
		"404 not found",
		"page not found",
		"error 404",
		"user not found",
		"profile not found",
		"user does not exist",
		"no such user",
		"this user does not exist",
		"the page you are looking for does not exist",
		"could not find user",
		"invalid username",
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// EmbeddedJSON finds the JSON value assigned to name inside a script, in
// either `name = {...}` or `"name": [...]` form, and decodes it into v.
func EmbeddedJSON(htmlContent, name string, v any) error {
	pattern := regexp.MustCompile(`["']?` + regexp.QuoteMeta(name) + `["']?\s*[:=]\s*`)
	for _, loc := range pattern.FindAllStringIndex(htmlContent, -1) {
		rest := htmlContent[loc[1]:]
		if rest == "" || (rest[0] != '{' && rest[0] != '[') {
			continue
		}
		// json.Decoder stops after the first complete value, ignoring trailing script.
		if err := json.NewDecoder(strings.NewReader(rest)).Decode(v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("embedded JSON %q not found", name)
}
