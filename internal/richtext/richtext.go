// Package richtext turns the HTML fragment embedded in a post record into
// plain text and the list of intra-thread reference links it carries.
package richtext

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

// DefaultReferenceSelector matches the anchors the upstream uses for in-thread quotes.
const DefaultReferenceSelector = "a.quotelink"

// Extractor implements archive.RichText with goquery.
type Extractor struct {
	selector string
}

// New builds an Extractor. An empty selector falls back to DefaultReferenceSelector.
func New(selector string) *Extractor {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultReferenceSelector
	}
	return &Extractor{selector: selector}
}

// Extract parses fragment, joins every text node in document order with a
// newline, and collects the href of each reference anchor.
func (e *Extractor) Extract(fragment string) (archive.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return archive.Extraction{}, fmt.Errorf("parse fragment: %w", err)
	}

	var parts []string
	for _, n := range doc.Nodes {
		collectText(n, &parts)
	}

	var refs []string
	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			refs = append(refs, href)
		}
	})

	return archive.Extraction{
		Text:       strings.Join(parts, "\n"),
		References: refs,
	}, nil
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		*parts = append(*parts, n.Data)
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}
