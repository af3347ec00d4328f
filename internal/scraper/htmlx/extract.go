// Package htmlx extracts clean text and outbound links from raw HTML,
// dropping non-content tags and collapsing whitespace, without pulling
// in a full headless browser.
package htmlx

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// droppedTags never contribute to extracted text: script/style carry no
// readable content, nav/footer are boilerplate, svg is binary-ish markup.
var droppedTags = map[string]struct{}{
	"script": {}, "style": {}, "nav": {}, "footer": {}, "svg": {},
	"noscript": {}, "head": {}, "iframe": {},
}

// blockTags force a line break after their content so block-level
// elements don't run together into one unreadable line.
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "tr": {}, "h1": {}, "h2": {},
	"h3": {}, "h4": {}, "h5": {}, "h6": {}, "section": {}, "article": {},
	"header": {}, "main": {}, "table": {}, "ul": {}, "ol": {},
}

// Extracted holds the result of parsing one page's HTML.
type Extracted struct {
	Text  string
	Title string
	Links []string // absolute URLs, deduplicated, in document order
}

// Extract parses raw HTML relative to baseURL, returning cleaned text
// (nav/footer/script/style stripped, whitespace collapsed to lines) and
// the set of outbound links resolved to absolute URLs.
func Extract(raw string, baseURL *url.URL) (Extracted, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Extracted{}, err
	}

	var sb strings.Builder
	var title string
	seen := make(map[string]struct{})
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, drop := droppedTags[n.Data]; drop {
				if n.Data == "head" && title == "" {
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.ElementNode && c.Data == "title" && c.FirstChild != nil {
							title = strings.TrimSpace(c.FirstChild.Data)
							break
						}
					}
				}
				return
			}
			if n.Data == "title" && n.FirstChild != nil && title == "" {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			if n.Data == "a" {
				if href := attr(n, "href"); href != "" {
					if abs := resolve(baseURL, href); abs != "" {
						if _, ok := seen[abs]; !ok {
							seen[abs] = struct{}{}
							links = append(links, abs)
						}
					}
				}
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if _, block := blockTags[n.Data]; block {
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)

	return Extracted{
		Text:  collapseBlankLines(sb.String()),
		Title: title,
		Links: links,
	}, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blank++
			if blank <= 1 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// SameDomainLinks filters links down to those sharing baseURL's
// registered host (exact host match; subdomains are treated as
// different domains to avoid crawling unrelated properties on a shared
// hosting account).
func SameDomainLinks(links []string, baseURL *url.URL) []string {
	var out []string
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Hostname(), baseURL.Hostname()) {
			out = append(out, l)
		}
	}
	return out
}
