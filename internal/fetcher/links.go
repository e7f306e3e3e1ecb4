// Package fetcher holds helpers shared by the HTTP and browser steps.
package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page describes what a step saw when it loaded a resource. Steps store it in
// Resource.Payload.
type Page struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Preloaded   bool   `json:"preloaded,omitempty"`

	// RobotsStatus is "disallowed" when robots.txt blocked the page and
	// "indeterminate" when robots.txt could not be read and allow-all was used.
	RobotsStatus string `json:"robots_status,omitempty"`
}

// Document is a parsed HTML body.
type Document struct {
	base *url.URL
	doc  *goquery.Document
}

// Parse reads body as HTML. pageURL resolves relative links.
func Parse(pageURL, body string) (*Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{base: base, doc: doc}, nil
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// SameHostLinks returns the absolute http(s) targets of a[href] that share
// the page's host, in document order without duplicates. Fragments are
// dropped and a link back to the page itself is ignored.
func (d *Document) SameHostLinks() []string {
	self := withoutFragment(d.base)
	seen := map[string]struct{}{self: {}}
	var out []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := d.base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !strings.EqualFold(abs.Host, d.base.Host) {
			return
		}
		link := withoutFragment(abs)
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	})
	return out
}

func withoutFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
