// Package locale tracks the active UI locale and derives the value sent to
// the backend in the locale header.
package locale

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Default is used when nothing better matches.
const Default = "en-US"

// Supported lists the UI locales the front end ships catalogs for.
var Supported = []string{"en-US", "zh-CN", "zh-TW", "ja-JP", "ko-KR"}

// headerOverrides holds the casing the backend expects for specific
// locales, keyed by lower-case underscore form.
var headerOverrides = map[string]string{
	"zh_cn": "zh_CN",
	"en_us": "en_US",
}

// HeaderValue converts a UI locale such as "zh-CN" or "zh_cn" into the
// backend's underscore form. Locales without an override are passed through
// with dashes replaced by underscores.
func HeaderValue(loc string) string {
	norm := strings.ReplaceAll(strings.TrimSpace(loc), "-", "_")
	if v, ok := headerOverrides[strings.ToLower(norm)]; ok {
		return v
	}
	return norm
}

// Resolver holds the active locale. It is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	active    string
	supported []string
	matcher   language.Matcher
}

// NewResolver creates a resolver over the supported locales, the first of
// which is the fallback. The initial active locale is resolved from initial.
func NewResolver(supported []string, initial string) *Resolver {
	if len(supported) == 0 {
		supported = []string{Default}
	}
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tags = append(tags, language.Make(s))
	}

	r := &Resolver{
		supported: supported,
		matcher:   language.NewMatcher(tags),
	}
	r.Set(initial)
	return r
}

// Match returns the supported locale that best fits the requested ones.
// Requests may use dashes or underscores; unparsable entries are skipped.
func (r *Resolver) Match(requested ...string) string {
	var tags []language.Tag
	for _, req := range requested {
		tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(req), "_", "-"))
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return r.supported[0]
	}
	_, idx, conf := r.matcher.Match(tags...)
	if conf == language.No {
		return r.supported[0]
	}
	return r.supported[idx]
}

// Set makes the best match for requested the active locale and returns it.
func (r *Resolver) Set(requested ...string) string {
	loc := r.Match(requested...)
	r.mu.Lock()
	r.active = loc
	r.mu.Unlock()
	return loc
}

// Locale returns the active locale, e.g. "zh-CN".
func (r *Resolver) Locale() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Prefix returns the route prefix of the active locale, e.g. "/zh-CN".
func (r *Resolver) Prefix() string {
	return "/" + r.Locale()
}
