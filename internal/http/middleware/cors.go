package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes what the staff dashboards may send cross-origin.
// Origins are exact ("https://panel.endovel.bo"), "*" for any, or a
// subdomain wildcard ("https://*.endovel.bo") matching every clinic host.
type CORSPolicy struct {
	AllowedOrigins []string
	AllowedHeaders []string
	AllowedMethods []string
	MaxAge         time.Duration
}

var (
	defaultCORSHeaders = []string{"Authorization", "Content-Type"}
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
)

// Enabled reports whether any origin is allowed.
func (p CORSPolicy) Enabled() bool {
	for _, o := range p.AllowedOrigins {
		if strings.TrimSpace(o) != "" {
			return true
		}
	}
	return false
}

// AllowsOrigin reports whether origin matches the policy.
func (p CORSPolicy) AllowsOrigin(origin string) bool {
	return newOriginMatcher(p.AllowedOrigins).allows(origin)
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []wildcardOrigin
}

type wildcardOrigin struct {
	scheme string
	suffix string
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: map[string]struct{}{}}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			m.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			m.suffixes = append(m.suffixes, wildcardOrigin{scheme: scheme + "://", suffix: host})
		default:
			m.exact[origin] = struct{}{}
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if m.any {
		return true
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, w := range m.suffixes {
		host, ok := strings.CutPrefix(origin, w.scheme)
		if !ok {
			continue
		}
		// One label only, so "a.b.endovel.bo" does not match "*.endovel.bo".
		if label, ok := strings.CutSuffix(host, w.suffix); ok && label != "" && !strings.ContainsAny(label, "./:") {
			return true
		}
	}
	return false
}

// CORS answers preflights and tags responses for allowed origins.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	origins := newOriginMatcher(policy.AllowedOrigins)
	headers := policy.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	methods := policy.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	maxAge := policy.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}

	allowedHeaders := strings.Join(headers, ", ")
	allowedMethods := strings.Join(methods, ", ")
	maxAgeSeconds := strconv.Itoa(int(maxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			w.Header().Add("Vary", "Origin")
			if origins.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Max-Age", maxAgeSeconds)
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
