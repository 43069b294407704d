package handler

import (
	"context"
	"strings"
)

// ShortTypeTag returns the part of typeTag after its last '/'.
func ShortTypeTag(typeTag string) string {
	if i := strings.LastIndexByte(typeTag, '/'); i >= 0 {
		return typeTag[i+1:]
	}
	return typeTag
}

// UniqueLabels returns one label per distinct tag. Tags sharing a handler
// label get " (<short type>)" appended; tags without a handler are labelled
// by their short type.
func (c *Cache) UniqueLabels(ctx context.Context, typeTags []string) map[string]string {
	base := make(map[string]string, len(typeTags))
	perLabel := make(map[string]int, len(typeTags))
	for _, tag := range typeTags {
		if _, seen := base[tag]; seen {
			continue
		}
		label, ok := c.ResolveLabel(ctx, tag)
		if !ok {
			label = ShortTypeTag(tag)
		}
		base[tag] = label
		perLabel[label]++
	}

	labels := make(map[string]string, len(base))
	for tag, label := range base {
		if perLabel[label] > 1 {
			label += " (" + ShortTypeTag(tag) + ")"
		}
		labels[tag] = label
	}
	return labels
}
