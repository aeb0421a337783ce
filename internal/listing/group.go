package listing

import (
	"time"

	"pmslens/api/internal/entity"
)

// Group is one rendered bucket of a list. Empty groups are never produced.
type Group struct {
	Key   string           `json:"key"`
	Title string           `json:"title"`
	Items []entity.Summary `json:"items"`
}

type bucket struct {
	key   string
	title string
}

var timeBuckets = []bucket{
	{key: "today", title: "Today"},
	{key: "yesterday", title: "Yesterday"},
	{key: "last_week", title: "Last Week"},
	{key: "older", title: "Older"},
}

// GroupByTime buckets items by their timestamp relative to now's calendar day.
// Items without a timestamp fall into Older.
func GroupByTime(now time.Time, items []entity.Summary) []Group {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	yesterday := today.AddDate(0, 0, -1)
	weekAgo := today.AddDate(0, 0, -7)

	return collect(timeBuckets, items, func(item entity.Summary) string {
		ts := item.Timestamp()
		switch {
		case ts.IsZero():
			return "older"
		case !ts.In(loc).Before(today):
			return "today"
		case !ts.In(loc).Before(yesterday):
			return "yesterday"
		case !ts.In(loc).Before(weekAgo):
			return "last_week"
		default:
			return "older"
		}
	})
}

var linkBuckets = []bucket{
	{key: "linked", title: "Linked"},
	{key: "unlinked", title: "Unlinked"},
}

// GroupByLink splits threads by whether the linking pipeline attached them to
// a record with any confidence.
func GroupByLink(items []entity.Summary) []Group {
	return collect(linkBuckets, items, func(item entity.Summary) string {
		switch item.LinkConfidence {
		case "deterministic", "suggested":
			return "linked"
		default:
			return "unlinked"
		}
	})
}

// GroupByStatus groups items by status in the given order. Statuses not in
// order follow in first-seen order.
func GroupByStatus(order []string, items []entity.Summary) []Group {
	buckets := make([]bucket, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, status := range order {
		if seen[status] {
			continue
		}
		seen[status] = true
		buckets = append(buckets, bucket{key: status, title: entity.Humanize(status)})
	}
	for _, item := range items {
		if !seen[item.Status] {
			seen[item.Status] = true
			buckets = append(buckets, bucket{key: item.Status, title: entity.Humanize(item.Status)})
		}
	}
	return collect(buckets, items, func(item entity.Summary) string { return item.Status })
}

// Grouping names a grouping policy for a list.
type Grouping string

const (
	GroupingTime   Grouping = "time"
	GroupingLink   Grouping = "link"
	GroupingStatus Grouping = "status"
)

// DefaultGrouping is link grouping for threads and time grouping otherwise.
func DefaultGrouping(kind entity.Kind) Grouping {
	if kind == entity.KindThread {
		return GroupingLink
	}
	return GroupingTime
}

// Apply groups items with the named policy.
func (g Grouping) Apply(now time.Time, kind entity.Kind, items []entity.Summary) []Group {
	switch g {
	case GroupingLink:
		return GroupByLink(items)
	case GroupingStatus:
		return GroupByStatus(entity.Describe(kind).StatusOrder, items)
	default:
		return GroupByTime(now, items)
	}
}

func collect(buckets []bucket, items []entity.Summary, keyOf func(entity.Summary) string) []Group {
	byKey := make(map[string][]entity.Summary, len(buckets))
	for _, item := range items {
		key := keyOf(item)
		byKey[key] = append(byKey[key], item)
	}
	groups := make([]Group, 0, len(buckets))
	for _, b := range buckets {
		if members := byKey[b.key]; len(members) > 0 {
			groups = append(groups, Group{Key: b.key, Title: b.title, Items: members})
		}
	}
	return groups
}
