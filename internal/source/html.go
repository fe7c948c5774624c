package source

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText reduces a feed description to readable text. Feeds routinely embed markup, tracking
// pixels and "continue reading" links in descriptions.
func PlainText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "<") && !strings.Contains(trimmed, "&") {
		return collapseSpace(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return collapseSpace(trimmed)
	}
	doc.Find("script, style, noscript, iframe, img, figure").Remove()

	var parts []string
	doc.Find("p, li, blockquote, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
