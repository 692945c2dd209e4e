package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which browser origins may call the API.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORSPolicyFor builds the policy used by the calendar front end from a
// comma-separated origin list.
func CORSPolicyFor(origins string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: strings.Split(origins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader, UserHeader},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
		MaxAge:         10 * time.Minute,
	}
}

type corsHeaders struct {
	origins  map[string]bool
	wildcard bool
	static   http.Header
}

func (p CORSPolicy) compile() corsHeaders {
	c := corsHeaders{origins: map[string]bool{}, static: http.Header{}}
	for _, o := range trimmed(p.AllowedOrigins) {
		if o == "*" {
			c.wildcard = true
			continue
		}
		c.origins[strings.ToLower(o)] = true
	}
	if v := trimmed(p.AllowedMethods); len(v) > 0 {
		c.static.Set("Access-Control-Allow-Methods", strings.Join(v, ", "))
	}
	if v := trimmed(p.AllowedHeaders); len(v) > 0 {
		c.static.Set("Access-Control-Allow-Headers", strings.Join(v, ", "))
	}
	if v := trimmed(p.ExposedHeaders); len(v) > 0 {
		c.static.Set("Access-Control-Expose-Headers", strings.Join(v, ", "))
	}
	if p.MaxAge > 0 {
		c.static.Set("Access-Control-Max-Age", strconv.Itoa(int(p.MaxAge.Seconds())))
	}
	if p.AllowCredentials {
		c.static.Set("Access-Control-Allow-Credentials", "true")
	}
	return c
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// origin is not permitted. Credentialed wildcard policies echo the origin.
func (c corsHeaders) allowOrigin(origin string, credentials bool) string {
	if c.origins[strings.ToLower(origin)] {
		return origin
	}
	if c.wildcard {
		if credentials {
			return origin
		}
		return "*"
	}
	return ""
}

// WithCORS answers preflight requests and decorates responses for allowed
// origins. A policy with no origins disables it.
func WithCORS(p CORSPolicy) Middleware {
	c := p.compile()
	if len(c.origins) == 0 && !c.wildcard {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allow := ""
			if origin != "" {
				allow = c.allowOrigin(origin, p.AllowCredentials)
			}
			if allow == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allow)
			for k, v := range c.static {
				h[k] = v
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
