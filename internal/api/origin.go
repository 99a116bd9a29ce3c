package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ryanuber/go-glob"
)

// originAllowed matches the requesting page against the configured glob
// patterns. Requests that carry neither Origin nor Referer are let through.
func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := requestOrigin(r)
	if origin == "" {
		return true
	}

	for _, allowed := range s.allowedOrigins {
		if glob.Glob(allowed, origin) {
			return true
		}
	}
	return false
}

func requestOrigin(r *http.Request) string {
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && origin != "null" {
		return origin
	}

	referer := strings.TrimSpace(r.Header.Get("Referer"))
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// etagMatches implements the weak comparison If-None-Match calls for.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
