package webhook

import (
	"encoding/json"
	"strings"

	"server/internal/domain"
	"server/internal/provider"
)

// Each provider names the URL field for the same concept differently. The
// audio synonyms are the worst offenders: primary, source and streaming
// variants all mean "where the artifact lives".
var singularURLFields = map[domain.ContentKind][]string{
	domain.ContentKindImage: {"image_url", "img_url", "image", "url"},
	domain.ContentKindAudio: {"audio_url", "source_audio_url", "stream_audio_url"},
	domain.ContentKindVideo: {"video_url", "video", "url"},
	domain.ContentKindText:  {"text_url", "url"},
}

var pluralURLFields = map[domain.ContentKind][]string{
	domain.ContentKindImage: {"image_urls", "urls", "resource_urls"},
	domain.ContentKindAudio: {"audio_urls", "urls", "resource_urls"},
	domain.ContentKindVideo: {"video_urls", "urls", "resource_urls"},
	domain.ContentKindText:  {"urls", "resource_urls"},
}

// Strategy is one named extraction rule: a pure function from callback to a
// canonical URL list. Strategies apply in priority order; the first one that
// yields URLs wins.
type Strategy struct {
	Name    string
	Extract func(cb *Callback, kind domain.ContentKind, mc provider.ModelConfig) ([]string, bool)
}

// Strategies returns the resolution order for result extraction.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "legacy_result_json", Extract: extractLegacyResultJSON},
		{Name: "direct_array", Extract: extractDirectArray},
		{Name: "nested_info", Extract: extractNestedInfo},
		{Name: "item_array", Extract: extractItemArray},
	}
}

// ExtractResultURLs normalizes the callback into an ordered list of canonical
// result URLs. An empty list means "no results yet": either a partial
// progress callback or a shape this system does not recognize.
func ExtractResultURLs(cb *Callback, kind domain.ContentKind, mc provider.ModelConfig) []string {
	for _, s := range Strategies() {
		if urls, ok := s.Extract(cb, kind, mc); ok && len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// extractLegacyResultJSON resolves the embedded result string older providers
// send: a JSON URL array, an object with a urls/url member, or a bare URL.
func extractLegacyResultJSON(cb *Callback, _ domain.ContentKind, _ provider.ModelConfig) ([]string, bool) {
	raw := strings.TrimSpace(cb.ResultJSON)
	if raw == "" {
		return nil, false
	}
	var asList []string
	if err := json.Unmarshal([]byte(raw), &asList); err == nil {
		urls := nonEmpty(asList)
		return urls, len(urls) > 0
	}
	var asObject map[string]any
	if err := json.Unmarshal([]byte(raw), &asObject); err == nil {
		if urls := stringSlice(asObject["urls"]); len(urls) > 0 {
			return urls, true
		}
		if u, ok := asObject["url"].(string); ok && u != "" {
			return []string{u}, true
		}
		return nil, false
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return []string{raw}, true
	}
	return nil, false
}

// extractDirectArray handles the one model family that reports results in a
// top-level provider-specific array field.
func extractDirectArray(cb *Callback, _ domain.ContentKind, mc provider.ModelConfig) ([]string, bool) {
	if mc.DirectArrayField == "" {
		return nil, false
	}
	urls := stringSlice(cb.Raw[mc.DirectArrayField])
	return urls, len(urls) > 0
}

// extractNestedInfo resolves the generic nested `info` object which offers
// either a plural URL array or one of several singular-URL synonyms.
func extractNestedInfo(cb *Callback, kind domain.ContentKind, _ provider.ModelConfig) ([]string, bool) {
	info, ok := cb.Raw["info"].(map[string]any)
	if !ok {
		return nil, false
	}
	for _, f := range pluralURLFields[kind] {
		if urls := stringSlice(info[f]); len(urls) > 0 {
			return urls, true
		}
	}
	for _, f := range singularURLFields[kind] {
		if u, ok := info[f].(string); ok && strings.TrimSpace(u) != "" {
			return []string{strings.TrimSpace(u)}, true
		}
	}
	return nil, false
}

// extractItemArray resolves the oldest payload format: an array of
// heterogeneous result items each carrying its own type-specific URL field.
// The callback is complete only if every item carries a recognized field;
// a partially-filled array means results are still streaming in.
func extractItemArray(cb *Callback, kind domain.ContentKind, _ provider.ModelConfig) ([]string, bool) {
	items, ok := cb.Raw["results"].([]any)
	if !ok {
		items, ok = cb.Raw["data"].([]any)
	}
	if !ok || len(items) == 0 {
		return nil, false
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, false
		}
		u := itemURL(m, kind)
		if u == "" {
			return nil, false
		}
		urls = append(urls, u)
	}
	return urls, true
}

func itemURL(item map[string]any, kind domain.ContentKind) string {
	for _, f := range singularURLFields[kind] {
		if u, ok := item[f].(string); ok && strings.TrimSpace(u) != "" {
			return strings.TrimSpace(u)
		}
	}
	return ""
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func nonEmpty(urls []string) []string {
	out := urls[:0]
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, strings.TrimSpace(u))
		}
	}
	return out
}
