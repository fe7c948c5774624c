package llm

import (
	"context"
	"fmt"
	"strings"
)

// StoryMember is one relevant article offered for grouping.
type StoryMember struct {
	ID      string
	Title   string
	Source  string
	Summary string
}

// StoryGroup names the primary article of one story and the articles repeating it.
type StoryGroup struct {
	PrimaryID  string
	RelatedIDs []string
	Headline   string
}

type storyGroupPayload struct {
	ClusterID  flexibleID   `json:"cluster_id"`
	PrimaryID  flexibleID   `json:"primary_article_id"`
	RelatedIDs []flexibleID `json:"related_article_ids"`
	Headline   string       `json:"cluster_headline"`
}

const clusterSystemPrompt = `You group news coverage by the specific event it reports. ` +
	`You answer with valid JSON only and never add commentary.`

// GroupStories asks the cluster model to group articles of one category by underlying event.
func (c *Client) GroupStories(ctx context.Context, categoryName string, members []StoryMember) ([]StoryGroup, error) {
	if len(members) == 0 {
		return nil, nil
	}

	raw, err := c.complete(ctx, c.clusterModel, clusterSystemPrompt, buildClusterPrompt(categoryName, members), 4096)
	if err != nil {
		return nil, err
	}

	var payload []storyGroupPayload
	if err := decodeValidated(raw, schemaClusters, &payload); err != nil {
		return nil, err
	}

	groups := make([]StoryGroup, 0, len(payload))
	for _, p := range payload {
		related := make([]string, 0, len(p.RelatedIDs))
		for _, id := range p.RelatedIDs {
			related = append(related, string(id))
		}
		groups = append(groups, StoryGroup{
			PrimaryID:  string(p.PrimaryID),
			RelatedIDs: related,
			Headline:   strings.TrimSpace(p.Headline),
		})
	}
	return groups, nil
}

func buildClusterPrompt(categoryName string, members []StoryMember) string {
	var b strings.Builder
	fmt.Fprintf(&b, "These articles were all classified as %q. Group the articles that report the SAME specific event, ", categoryName)
	b.WriteString("not merely the same topic. Every article belongs to exactly one group; an article with no siblings forms ")
	b.WriteString("a group on its own with an empty related list. For each group pick the article with the most complete ")
	b.WriteString("summary as primary and write a short neutral headline for the event.\n\n")
	b.WriteString("Return a JSON array:\n")
	b.WriteString(`[{"cluster_id": "1", "primary_article_id": "<id>", "related_article_ids": ["<id>"], "cluster_headline": "<headline>"}]`)
	b.WriteString("\n\nARTICLES:\n")

	for _, m := range members {
		summary := strings.TrimSpace(m.Summary)
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&b, "\nid: %s\nTitle: %s\nSource: %s\nSummary: %s\n", m.ID, strings.TrimSpace(m.Title), strings.TrimSpace(m.Source), summary)
	}
	return b.String()
}
