// Package digest turns the window's relevant classifications into a category-ordered digest.
package digest

import (
	"sort"
	"strings"
	"time"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/db"
)

const DefaultTopStories = 30

// Coverage is a sibling article of a clustered story.
type Coverage struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

type Item struct {
	ArticleID     int64      `json:"article_id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Source        string     `json:"source"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Category      string     `json:"category"`
	ClusterID     *int64     `json:"cluster_id,omitempty"`
	Headline      string     `json:"cluster_headline,omitempty"`
	AlsoCoveredBy []Coverage `json:"also_covered_by,omitempty"`

	sortTime time.Time
}

type Section struct {
	Category string `json:"category"`
	Items    []Item `json:"items"`
}

// Digest is the assembled result. Top holds the first TopStories items in category order and
// More holds the rest for compact rendering.
type Digest struct {
	Date        string              `json:"date"`
	GeneratedAt time.Time           `json:"generated_at"`
	Items       int                 `json:"items"`
	Sources     int                 `json:"sources"`
	Categories  int                 `json:"categories"`
	Top         []Section           `json:"top_stories"`
	More        []Section           `json:"full_coverage,omitempty"`
	Summaries   map[string][]string `json:"category_summaries,omitempty"`
}

// Sections returns Top and More merged per category, in category order.
func (d Digest) Sections() []Section {
	merged := make(map[string][]Item)
	for _, section := range append(append([]Section(nil), d.Top...), d.More...) {
		merged[section.Category] = append(merged[section.Category], section.Items...)
	}
	return orderedSections(merged)
}

// Assemble groups rows by story and category. A clustered story with a primary collapses into the
// primary's item, listing its siblings as also covered by; a cluster without a primary keeps every
// member as its own item.
func Assemble(rows []db.DigestRow, topStories int, now time.Time) Digest {
	if topStories <= 0 {
		topStories = DefaultTopStories
	}

	items := collapseClusters(rows)
	byCategory := make(map[string][]Item)
	sources := make(map[string]struct{})
	for _, item := range items {
		byCategory[item.Category] = append(byCategory[item.Category], item)
		sources[item.Source] = struct{}{}
	}
	for name := range byCategory {
		list := byCategory[name]
		sort.SliceStable(list, func(i, j int) bool { return list[i].sortTime.After(list[j].sortTime) })
	}

	top := make(map[string][]Item)
	more := make(map[string][]Item)
	count := 0
	for _, name := range categoryNames(byCategory) {
		for _, item := range byCategory[name] {
			if count < topStories {
				top[name] = append(top[name], item)
			} else {
				more[name] = append(more[name], item)
			}
			count++
		}
	}

	return Digest{
		Date:        now.UTC().Format(time.DateOnly),
		GeneratedAt: now.UTC(),
		Items:       len(items),
		Sources:     len(sources),
		Categories:  len(byCategory),
		Top:         orderedSections(top),
		More:        orderedSections(more),
	}
}

func collapseClusters(rows []db.DigestRow) []Item {
	type clusterGroup struct {
		primary *db.DigestRow
		members []db.DigestRow
	}

	var (
		items    []Item
		order    []int64
		clusters = make(map[int64]*clusterGroup)
	)
	for _, row := range rows {
		if row.ClusterID == nil {
			items = append(items, newItem(row))
			continue
		}
		group, ok := clusters[*row.ClusterID]
		if !ok {
			group = &clusterGroup{}
			clusters[*row.ClusterID] = group
			order = append(order, *row.ClusterID)
		}
		group.members = append(group.members, row)
		if row.IsPrimaryInCluster && group.primary == nil {
			primary := row
			group.primary = &primary
		}
	}

	for _, id := range order {
		group := clusters[id]
		if group.primary == nil {
			for _, member := range group.members {
				items = append(items, newItem(member))
			}
			continue
		}

		item := newItem(*group.primary)
		for _, member := range group.members {
			if member.ClassificationID == group.primary.ClassificationID {
				continue
			}
			item.AlsoCoveredBy = append(item.AlsoCoveredBy, Coverage{Source: member.SourceName, URL: member.URL})
		}
		items = append(items, item)
	}
	return items
}

func newItem(row db.DigestRow) Item {
	item := Item{
		ArticleID:   row.ArticleID,
		Title:       strings.TrimSpace(row.Title),
		URL:         row.URL,
		Source:      row.SourceName,
		PublishedAt: row.PublishedAt,
		Category:    category.OrDefault(row.Category),
		ClusterID:   row.ClusterID,
		sortTime:    row.FetchedAt,
	}
	if row.PublishedAt != nil {
		item.sortTime = *row.PublishedAt
	}
	if row.Summary != nil {
		item.Summary = strings.TrimSpace(*row.Summary)
	}
	if row.ClusterHeadline != nil {
		item.Headline = strings.TrimSpace(*row.ClusterHeadline)
	}
	return item
}

func categoryNames[T any](byCategory map[string]T) []string {
	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := category.Rank(names[i]), category.Rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

func orderedSections(byCategory map[string][]Item) []Section {
	sections := make([]Section, 0, len(byCategory))
	for _, name := range categoryNames(byCategory) {
		if len(byCategory[name]) == 0 {
			continue
		}
		sections = append(sections, Section{Category: name, Items: byCategory[name]})
	}
	return sections
}
