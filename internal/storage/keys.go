package storage

import (
	"net/url"
	"strings"
)

// SourceKey locates an original object: the configured prefix, trimmed of
// surrounding slashes, joined to the already percent-decoded filename.
func SourceKey(prefix, filename string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// VariantKey is where the asynchronous delivery mode stores a rendered
// variant, so that a static host can serve the same path afterwards.
func VariantKey(directive, filename string) string {
	return directive + "/" + filename
}

// PublicURL joins baseURL and key, escaping each key segment.
func PublicURL(baseURL, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(segments, "/")
}
