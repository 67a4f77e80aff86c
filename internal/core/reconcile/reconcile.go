// Package reconcile folds push events into pull-cached collections.
//
// A push only touches entries that already exist (or are being fetched);
// otherwise the push-driven history is the sole source until the next
// pull. Every touched entry is marked stale so the next read revalidates
// the optimistic state against the server.
package reconcile

import (
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
)

// InsertOrPatch places item at the head of the []T cached under key, or
// replaces the element with the same id in place. maxLen <= 0 keeps the
// list unbounded. It reports whether the cache was touched.
func InsertOrPatch[T any](cache *querycache.Cache, key querycache.Key, item T, idOf func(T) string, maxLen int) bool {
	touched := querycache.ApplyPushAs(cache, key, func(items []T) []T {
		return insertOrPatch(items, item, idOf, maxLen)
	})
	if touched {
		cache.MarkStale(key)
	}
	return touched
}

// Patch rewrites the element with the given id in the []T cached under
// key. It reports whether the cache was touched.
func Patch[T any](cache *querycache.Cache, key querycache.Key, id string, idOf func(T) string, fn func(T) T) bool {
	touched := querycache.ApplyPushAs(cache, key, func(items []T) []T {
		return patch(items, id, idOf, fn)
	})
	if touched {
		cache.MarkStale(key)
	}
	return touched
}

// InsertOrPatchPages is InsertOrPatch for cursor-paged lists. New items
// go to the head of the first page; a known id is replaced on whichever
// page holds it.
func InsertOrPatchPages[T any](cache *querycache.Cache, key querycache.Key, item T, idOf func(T) string) bool {
	touched := querycache.ApplyPushAs(cache, key, func(pages []pagination.Page[T]) []pagination.Page[T] {
		return insertOrPatchPages(pages, item, idOf)
	})
	if touched {
		cache.MarkStale(key)
	}
	return touched
}

// PatchPages is Patch for cursor-paged lists.
func PatchPages[T any](cache *querycache.Cache, key querycache.Key, id string, idOf func(T) string, fn func(T) T) bool {
	touched := querycache.ApplyPushAs(cache, key, func(pages []pagination.Page[T]) []pagination.Page[T] {
		return patchPages(pages, id, idOf, fn)
	})
	if touched {
		cache.MarkStale(key)
	}
	return touched
}

// RemoveFromPages drops the element with the given id from every page.
func RemoveFromPages[T any](pages []pagination.Page[T], id string, idOf func(T) string) []pagination.Page[T] {
	out := make([]pagination.Page[T], len(pages))
	for i, page := range pages {
		items := make([]T, 0, len(page.Items))
		for _, existing := range page.Items {
			if idOf(existing) != id {
				items = append(items, existing)
			}
		}
		out[i] = pagination.Page[T]{Items: items, NextCursor: page.NextCursor, HasMore: page.HasMore}
	}
	return out
}

func insertOrPatch[T any](items []T, item T, idOf func(T) string, maxLen int) []T {
	id := idOf(item)
	for i, existing := range items {
		if idOf(existing) == id {
			out := make([]T, len(items))
			copy(out, items)
			out[i] = item
			return out
		}
	}
	n := len(items) + 1
	if maxLen > 0 && n > maxLen {
		n = maxLen
	}
	out := make([]T, 0, n)
	out = append(out, item)
	return append(out, items[:n-1]...)
}

func patch[T any](items []T, id string, idOf func(T) string, fn func(T) T) []T {
	for i, existing := range items {
		if idOf(existing) == id {
			out := make([]T, len(items))
			copy(out, items)
			out[i] = fn(existing)
			return out
		}
	}
	return items
}

func insertOrPatchPages[T any](pages []pagination.Page[T], item T, idOf func(T) string) []pagination.Page[T] {
	id := idOf(item)
	for i, page := range pages {
		for j, existing := range page.Items {
			if idOf(existing) == id {
				out := append([]pagination.Page[T](nil), pages...)
				items := append([]T(nil), page.Items...)
				items[j] = item
				out[i].Items = items
				return out
			}
		}
	}
	if len(pages) == 0 {
		return []pagination.Page[T]{{Items: []T{item}}}
	}
	out := append([]pagination.Page[T](nil), pages...)
	out[0].Items = append([]T{item}, pages[0].Items...)
	return out
}

func patchPages[T any](pages []pagination.Page[T], id string, idOf func(T) string, fn func(T) T) []pagination.Page[T] {
	for i, page := range pages {
		for j, existing := range page.Items {
			if idOf(existing) == id {
				out := append([]pagination.Page[T](nil), pages...)
				items := append([]T(nil), page.Items...)
				items[j] = fn(existing)
				out[i].Items = items
				return out
			}
		}
	}
	return pages
}
