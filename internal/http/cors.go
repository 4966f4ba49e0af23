package httpx

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-ID"
	corsMaxAge       = "600"
)

// applyCORS sets the CORS response headers when the request origin is
// allowed and reports whether it was.
func (r *Router) applyCORS(w http.ResponseWriter, req *http.Request) bool {
	origin := strings.TrimRight(req.Header.Get("Origin"), "/")
	if origin == "" {
		return false
	}
	if !r.originAllowed(origin) {
		return false
	}
	headers := w.Header()
	headers.Add("Vary", "Origin")
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Set("Access-Control-Allow-Methods", corsAllowMethods)
	headers.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	headers.Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
	headers.Set("Access-Control-Max-Age", corsMaxAge)
	return true
}

func (r *Router) originAllowed(origin string) bool {
	if _, ok := r.origins[origin]; ok {
		return true
	}
	return r.anyOrigin
}

// checkUpgradeOrigin admits websocket upgrades from configured origins, from
// the API's own host, and from clients that send no Origin at all.
func (r *Router) checkUpgradeOrigin(req *http.Request) bool {
	origin := strings.TrimRight(req.Header.Get("Origin"), "/")
	if origin == "" || r.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, req.Host)
}
