package llm

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/newswatch/internal/category"
)

const (
	maxContentChars      = 1500
	classifyTokensPerDoc = 160
)

// ArticleInput is one article in a classification batch. Index is its position in the batch.
type ArticleInput struct {
	Index   int
	Title   string
	Source  string
	Content string
}

// Judgment is the model's verdict for the article at Index.
type Judgment struct {
	Index      int     `json:"index"`
	IsRelevant bool    `json:"is_relevant"`
	Summary    *string `json:"summary"`
	Category   *string `json:"category"`
}

const classifySystemPrompt = `You review news articles for a monitor that tracks antisemitism. ` +
	`You answer with valid JSON only and never add commentary.`

// ClassifyBatch asks for one judgment per article in a single request. Judgments are matched
// back to articles by Index; the caller is responsible for rejecting indices outside the batch.
func (c *Client) ClassifyBatch(ctx context.Context, articles []ArticleInput) ([]Judgment, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	raw, err := c.complete(ctx, c.model, classifySystemPrompt, buildClassifyPrompt(articles), 256+classifyTokensPerDoc*len(articles))
	if err != nil {
		return nil, err
	}

	var judgments []Judgment
	if err := decodeValidated(raw, schemaJudgments, &judgments); err != nil {
		return nil, err
	}
	return judgments, nil
}

func buildClassifyPrompt(articles []ArticleInput) string {
	var b strings.Builder
	b.WriteString("Decide for each article below whether it is relevant. Return a JSON array with one object per article:\n")
	b.WriteString(`[{"index": <article index>, "is_relevant": true|false, "summary": string|null, "category": string|null}]`)
	b.WriteString("\n\nAn article is relevant when it substantively covers antisemitic incidents, hate crimes or discrimination; ")
	b.WriteString("policy, legislation or government action on antisemitism; organizational responses; research or reports; ")
	b.WriteString("or public controversy about antisemitism. It is not relevant when it only mentions Jewish people or culture, ")
	b.WriteString("covers Middle East news without an antisemitism angle, or is historical content with no current news hook.\n\n")
	b.WriteString("For relevant articles write a neutral one or two sentence summary and pick exactly one category from: ")
	b.WriteString(strings.Join(quoted(category.Order), ", "))
	b.WriteString(". Use \"Other\" only when nothing else fits. For articles that are not relevant set summary and category to null.\n\n")
	b.WriteString("ARTICLES:\n")

	for _, a := range articles {
		content := strings.TrimSpace(a.Content)
		if content == "" {
			content = "(no content available)"
		}
		if runes := []rune(content); len(runes) > maxContentChars {
			content = string(runes[:maxContentChars]) + "..."
		}
		fmt.Fprintf(&b, "\n[%d]\nTitle: %s\nSource: %s\nContent: %s\n", a.Index, strings.TrimSpace(a.Title), strings.TrimSpace(a.Source), content)
	}
	return b.String()
}

func quoted(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = `"` + v + `"`
	}
	return out
}
