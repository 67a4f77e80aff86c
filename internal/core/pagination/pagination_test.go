package pagination

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func identity(s string) string { return s }

func TestFlatten_DeduplicatesAcrossPages(t *testing.T) {
	pages := []Page[string]{
		{Items: []string{"a", "b"}, NextCursor: "c1", HasMore: true},
		{Items: []string{"b", "c"}, HasMore: false},
	}
	assert.Equal(t, []string{"a", "b", "c"}, Flatten(pages, identity))
	assert.Equal(t, 4, Total(pages))
	assert.Empty(t, Flatten[string](nil, identity))
}

func TestHasNextPage(t *testing.T) {
	tests := []struct {
		name     string
		pages    []Page[string]
		expected bool
		cursor   string
	}{
		{name: "NoPages", pages: nil, expected: false},
		{name: "LastHasMore", pages: []Page[string]{{HasMore: true, NextCursor: "x"}}, expected: true, cursor: "x"},
		{name: "LastDone", pages: []Page[string]{{HasMore: true, NextCursor: "x"}, {HasMore: false}}, expected: false},
		{name: "MoreWithoutCursor", pages: []Page[string]{{HasMore: true}}, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HasNextPage(tt.pages))
			cursor, ok := NextCursor(tt.pages)
			assert.Equal(t, tt.expected, ok)
			assert.Equal(t, tt.cursor, cursor)
		})
	}
}

func TestMap_DoesNotModifyInput(t *testing.T) {
	pages := []Page[string]{{Items: []string{"a"}, NextCursor: "n", HasMore: true}}
	mapped := Map(pages, strings.ToUpper)

	assert.Equal(t, []string{"A"}, mapped[0].Items)
	assert.Equal(t, "n", mapped[0].NextCursor)
	assert.Equal(t, []string{"a"}, pages[0].Items)
}
