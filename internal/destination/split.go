package destination

import (
	"strings"

	"postcast/internal/richtext"
)

// HashTag prefixes tag with '#' and drops inner whitespace.
func HashTag(tag string) string {
	tag = strings.Join(strings.Fields(tag), "")
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

// FitTags scans tags in order and keeps each one that still fits into
// capacity runes, counting one separator space before every tag but the
// first. A tag that does not fit is skipped and the scan continues.
func FitTags(tags []string, capacity int) []string {
	var kept []string
	used := 0
	for _, t := range tags {
		t = HashTag(t)
		if t == "" {
			continue
		}
		cost := richtext.Length(t)
		if len(kept) > 0 {
			cost++
		}
		if used+cost > capacity {
			continue
		}
		kept = append(kept, t)
		used += cost
	}
	return kept
}

// ComposeFirst builds the text of the first unit of a split post: optional
// title line and body truncated to capacity, then a blank line and as many
// tags as still fit.
func ComposeFirst(title, body string, tags []string, capacity int) string {
	head := strings.TrimSpace(body)
	if title = strings.TrimSpace(title); title != "" {
		if head == "" {
			head = title
		} else {
			head = title + "\n" + head
		}
	}
	if capacity <= 0 {
		return head
	}
	head = richtext.Truncate(head, capacity)

	sep := "\n\n"
	if head == "" {
		sep = ""
	}
	remain := capacity - richtext.Length(head) - richtext.Length(sep)
	kept := FitTags(tags, remain)
	if len(kept) == 0 {
		return head
	}
	return head + sep + strings.Join(kept, " ")
}

// Chunk splits items into groups of at most size.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	return append(out, items)
}
