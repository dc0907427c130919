package bowtie

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives holds the Cache-Control directives that decide whether a
// response is stored and for how long.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	Private bool
	MaxAge  *time.Duration
	SMaxAge *time.Duration
}

// lifetime prefers s-maxage, which addresses shared caches, over max-age.
func (d CacheDirectives) lifetime() (time.Duration, bool) {
	switch {
	case d.SMaxAge != nil:
		return *d.SMaxAge, true
	case d.MaxAge != nil:
		return *d.MaxAge, true
	}
	return 0, false
}

func parseCacheControl(header string) CacheDirectives {
	var d CacheDirectives
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), "\"")

		switch key {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		case "private":
			// private="field" only restricts the named fields; shared caches
			// still reject the whole response.
			d.Private = true
		case "max-age":
			if hasValue {
				d.MaxAge = parseSeconds(value)
			}
		case "s-maxage":
			if hasValue {
				d.SMaxAge = parseSeconds(value)
			}
		}
	}
	return d
}

// FreshnessLifetime returns how long resp may be served from a shared cache,
// taken from s-maxage or max-age. ok is false when neither is present.
func FreshnessLifetime(resp *http.Response) (ttl time.Duration, ok bool) {
	if resp == nil {
		return 0, false
	}
	return parseCacheControl(strings.Join(resp.Header.Values("Cache-Control"), ",")).lifetime()
}

func parseSeconds(v string) *time.Duration {
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

// Error statuses are absent: they fail the call before the cache is
// consulted.
var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusPartialContent:       true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
}

// DefaultCachingPolicy applies the shared-cache storage rules of RFC 7234:
// safe methods, heuristically cacheable status codes, no restrictive
// Cache-Control directive, a non-zero lifetime and no Vary: *.
type DefaultCachingPolicy struct{}

// IsCacheable reports whether resp may be stored.
func (DefaultCachingPolicy) IsCacheable(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.Request != nil {
		switch resp.Request.Method {
		case http.MethodGet, http.MethodHead:
		default:
			return false
		}
	}
	if !cacheableStatus[resp.StatusCode] {
		return false
	}

	cc := parseCacheControl(strings.Join(resp.Header.Values("Cache-Control"), ","))
	if cc.NoStore || cc.NoCache || cc.Private {
		return false
	}
	if ttl, ok := cc.lifetime(); ok && ttl == 0 {
		return false
	}

	for _, v := range resp.Header.Values("Vary") {
		for _, field := range strings.Split(v, ",") {
			if strings.TrimSpace(field) == "*" {
				return false
			}
		}
	}
	return true
}

// AlwaysCache accepts every response.
var AlwaysCache = CachingPolicyFunc(func(*http.Response) bool { return true })
