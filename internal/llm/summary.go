package llm

import (
	"context"
	"fmt"
	"strings"
)

// SummaryInput is one digest item fed into a category summary.
type SummaryInput struct {
	Title   string
	Source  string
	Summary string
}

const summarySystemPrompt = `You summarize news articles into concise bullet points. ` +
	`You answer with valid JSON only and never add commentary.`

// SummarizeCategory returns bullet points describing the day's developments in one category.
func (c *Client) SummarizeCategory(ctx context.Context, categoryName string, items []SummaryInput) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	raw, err := c.complete(ctx, c.model, summarySystemPrompt, buildSummaryPrompt(categoryName, items), 1024)
	if err != nil {
		return nil, err
	}

	var bullets []string
	if err := decodeValidated(raw, schemaBullets, &bullets); err != nil {
		return nil, err
	}
	for i := range bullets {
		bullets[i] = strings.TrimSpace(bullets[i])
	}
	return bullets, nil
}

func buildSummaryPrompt(categoryName string, items []SummaryInput) string {
	bulletCount := "3-5 bullet points"
	if len(items) == 1 {
		bulletCount = "1 bullet point"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n\nWrite %s summarizing the key developments below. ", categoryName, bulletCount)
	b.WriteString("Keep each bullet to one factual sentence, neutral in tone. When several articles cover the same event, ")
	b.WriteString("merge them into one bullet.\n\nReturn ONLY a JSON array of strings.\n\nARTICLES:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s (%s): %s\n", strings.TrimSpace(item.Title), strings.TrimSpace(item.Source), strings.TrimSpace(item.Summary))
	}
	return b.String()
}
