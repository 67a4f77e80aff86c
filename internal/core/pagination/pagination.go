// Package pagination holds cursor-paged results as they accumulate in
// the cache.
package pagination

// Page is one cursor-paged response
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// Flatten concatenates pages in order, keeping the first occurrence of
// each id. Items can appear twice when a push shifted the server's window
// between page requests.
func Flatten[T any](pages []Page[T], idOf func(T) string) []T {
	seen := map[string]struct{}{}
	var out []T
	for _, page := range pages {
		for _, item := range page.Items {
			id := idOf(item)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// HasNextPage reports whether the last page promises more results
func HasNextPage[T any](pages []Page[T]) bool {
	if len(pages) == 0 {
		return false
	}
	last := pages[len(pages)-1]
	return last.HasMore && last.NextCursor != ""
}

// NextCursor returns the cursor to request after the last page
func NextCursor[T any](pages []Page[T]) (string, bool) {
	if !HasNextPage(pages) {
		return "", false
	}
	return pages[len(pages)-1].NextCursor, true
}

// Total counts the items across pages, duplicates included
func Total[T any](pages []Page[T]) int {
	n := 0
	for _, page := range pages {
		n += len(page.Items)
	}
	return n
}

// Map rewrites every item of every page, returning new pages. The input
// is not modified.
func Map[T any](pages []Page[T], fn func(T) T) []Page[T] {
	out := make([]Page[T], len(pages))
	for i, page := range pages {
		items := make([]T, len(page.Items))
		for j, item := range page.Items {
			items[j] = fn(item)
		}
		out[i] = Page[T]{Items: items, NextCursor: page.NextCursor, HasMore: page.HasMore}
	}
	return out
}
