// Package extract derives the searchable text, title, and outbound links
// from fetched HTML. Script, style, and chrome subtrees are dropped before
// text accumulation so the content hash tracks visible content only.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitechat/ingest/internal/pipeline"
)

// Selectors removed before text extraction. Navigation and footer chrome
// repeats on every page of a site and would poison change detection.
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	"link[rel='stylesheet']",
}

// Extractor implements pipeline.Extractor using goquery.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses body as HTML and returns the document text, title, and the
// absolutized link targets found in it. Relative links resolve against
// baseURL; links that do not parse are skipped.
func (e *Extractor) Extract(body []byte, baseURL string) (pipeline.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("parse base url: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	links := collectLinks(doc, base)

	for _, sel := range strippedSelectors {
		doc.Find(sel).Remove()
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	text := strings.Join(strings.Fields(root.Text()), " ")

	return pipeline.Document{
		Title: title,
		Text:  text,
		Links: links,
	}, nil
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		normalized, err := pipeline.NormalizeURL(abs.String())
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}
