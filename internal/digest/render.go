package digest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const title = "Daily Antisemitism News Monitor"

// WriteJSON encodes the digest as indented JSON.
func WriteJSON(w io.Writer, d Digest) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(d)
}

// WriteText renders the digest as plain text: full entries for top stories, one line each for
// the remaining coverage.
func WriteText(w io.Writer, d Digest) error {
	out := bufio.NewWriter(w)

	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "%s | %s from %s across %s\n",
		displayDate(d.GeneratedAt),
		plural(d.Items, "article", "articles"),
		plural(d.Sources, "source", "sources"),
		plural(d.Categories, "category", "categories"),
	)

	if d.Items == 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "No relevant articles in this window.")
		return out.Flush()
	}

	for _, section := range d.Top {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "== %s ==\n", strings.ToUpper(section.Category))
		if bullets := d.Summaries[section.Category]; len(bullets) > 0 {
			for _, bullet := range bullets {
				fmt.Fprintf(out, "  - %s\n", bullet)
			}
			fmt.Fprintln(out)
		}
		for _, item := range section.Items {
			writeFullItem(out, item)
		}
	}

	if len(d.More) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "== FULL COVERAGE ==")
		for _, section := range d.More {
			fmt.Fprintf(out, "\n%s\n", section.Category)
			for _, item := range section.Items {
				fmt.Fprintf(out, "  - %s (%s) %s\n", item.Title, item.Source, item.URL)
			}
		}
	}

	return out.Flush()
}

func writeFullItem(out *bufio.Writer, item Item) {
	fmt.Fprintf(out, "* %s\n", item.Title)
	meta := item.Source
	if item.PublishedAt != nil {
		meta += " | " + displayDate(*item.PublishedAt)
	}
	fmt.Fprintf(out, "  %s\n", meta)
	if item.Summary != "" {
		fmt.Fprintf(out, "  %s\n", item.Summary)
	}
	if len(item.AlsoCoveredBy) > 0 {
		parts := make([]string, 0, len(item.AlsoCoveredBy))
		for _, related := range item.AlsoCoveredBy {
			parts = append(parts, fmt.Sprintf("%s <%s>", related.Source, related.URL))
		}
		fmt.Fprintf(out, "  Also covered by: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(out, "  %s\n", item.URL)
}

func displayDate(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
