package render

import (
	"fmt"
	"regexp"
	"strings"
)

// CacheRule maps a request path pattern to a Cache-Control value. The same
// pattern string is emitted into nginx and Apache configs and compiled here,
// so it sticks to the regex subset PCRE and RE2 share.
type CacheRule struct {
	Name    string
	Pattern string
	Header  string
	re      *regexp.Regexp
}

const (
	CacheImmutable = "public, max-age=31536000, immutable"
	CacheShort     = "public, max-age=3600"
	CacheNone      = "no-cache"
)

// cacheRules is ordered by precedence: the first match wins.
var cacheRules = []CacheRule{
	{
		// webpack/CRA/Angular style: name.<hex>.ext, name.<hex>.chunk.js or name-<hex>.ext
		Name:    "hashed-asset",
		Pattern: `[.-][0-9a-f]{8,}(?:\.chunk)?\.(?:js|mjs|css|woff2?|ttf|otf|svg|png|jpe?g|gif|webp|avif|ico)$`,
		Header:  CacheImmutable,
	},
	{
		// Vite emits assets/<name>-<8 char base64url hash>.<ext>. The hash
		// must carry a digit so words like ui-controls.js stay short-cached;
		// the rare all-letter hash is short-cached too.
		Name:    "vite-asset",
		Pattern: `/assets/[^/]+-` + viteHash() + `\.(?:js|mjs|css|woff2?|ttf|otf|svg|png|jpe?g|gif|webp|avif|ico)$`,
		Header:  CacheImmutable,
	},
	{
		Name:    "script-style",
		Pattern: `\.(?:js|mjs|css)$`,
		Header:  CacheShort,
	},
	{
		Name:    "document",
		Pattern: `\.html?$`,
		Header:  CacheNone,
	},
}

// viteHash matches 8 base64url characters with at least one digit. Neither
// RE2 nor Apache's (?i) matching can tell case apart, and RE2 has no
// lookahead, so the digit position is spelled out.
func viteHash() string {
	alts := make([]string, 8)
	for i := range alts {
		alts[i] = fmt.Sprintf("[0-9a-z_-]{%d}[0-9][0-9a-z_-]{%d}", i, 7-i)
	}
	return "(?:" + strings.Join(alts, "|") + ")"
}

func init() {
	for i := range cacheRules {
		// nginx uses ~* and Apache gets (?i), so matching is case-insensitive everywhere.
		cacheRules[i].re = regexp.MustCompile(`(?i)` + cacheRules[i].Pattern)
	}
}

// CacheRules returns the rules in precedence order.
func CacheRules() []CacheRule {
	out := make([]CacheRule, len(cacheRules))
	copy(out, cacheRules)
	return out
}

// CachePolicyFor returns the Cache-Control value served for a request path,
// or "" when no rule applies.
func CachePolicyFor(path string) string {
	if len(path) == 0 || path[0] != '/' {
		path = "/" + path
	}
	for _, r := range cacheRules {
		if r.re.MatchString(path) {
			return r.Header
		}
	}
	return ""
}

// apacheCacheRules reverses precedence: every matching LocationMatch applies
// and the last one wins.
func apacheCacheRules() []CacheRule {
	out := make([]CacheRule, 0, len(cacheRules))
	for i := len(cacheRules) - 1; i >= 0; i-- {
		r := cacheRules[i]
		r.Pattern = `(?i)` + r.Pattern
		out = append(out, r)
	}
	return out
}
