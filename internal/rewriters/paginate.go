// Package rewriters holds cache rewrite rules for storefront API resources.
package rewriters

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/briangreenhill/storefront/cache"
	"github.com/briangreenhill/storefront/internal/metrics"
)

var keys = cache.DefaultKeyGenerator

// Pagination folds later pages of the list resource at base into the cached
// first page, so a paged listing accumulates into one entry.
//
// Payloads are expected in the API's list shape:
//
//	{"meta": {"limit": 20, "next": "/api/...?offset=20"}, "objects": [...]}
func Pagination(base string, log zerolog.Logger) cache.Rewriter {
	basePath := keys.Base(base)
	return func(key string, value any, snap cache.Reader) cache.Decision {
		if keys.Base(key) != basePath {
			return cache.Keep()
		}
		if offset, ok := keys.Param(key, "offset"); !ok || cast.ToInt(offset) == 0 {
			return cache.Keep()
		}

		firstKey := keys.Without(key, "offset", "limit")
		prev, ok := snap.Get(firstKey)
		if !ok {
			log.Warn().Str("key", key).Str("first_page", firstKey).
				Msg("first page not cached, dropping paginated response")
			metrics.RaiseInvariant("rewriters", "missing_first_page")
			return cache.Suppress()
		}

		prevList, okPrev := prev.(map[string]any)
		page, okPage := value.(map[string]any)
		if !okPrev || !okPage {
			log.Warn().Str("key", key).Msg("unexpected list payload, dropping paginated response")
			metrics.RaiseInvariant("rewriters", "bad_list_payload")
			return cache.Suppress()
		}
		return cache.FoldInto(firstKey, merge(prevList, page))
	}
}

// merge returns a new list payload; neither input is modified.
func merge(prev, page map[string]any) map[string]any {
	out := make(map[string]any, len(prev))
	for k, v := range prev {
		out[k] = v
	}

	prevMeta := cast.ToStringMap(prev["meta"])
	pageMeta := cast.ToStringMap(page["meta"])
	meta := make(map[string]any, len(prevMeta)+2)
	for k, v := range prevMeta {
		meta[k] = v
	}
	meta["limit"] = cast.ToInt(prevMeta["limit"]) + cast.ToInt(pageMeta["limit"])
	meta["next"] = pageMeta["next"]
	out["meta"] = meta

	prevObjects := cast.ToSlice(prev["objects"])
	pageObjects := cast.ToSlice(page["objects"])
	objects := make([]any, 0, len(prevObjects)+len(pageObjects))
	objects = append(objects, prevObjects...)
	out["objects"] = append(objects, pageObjects...)
	return out
}
