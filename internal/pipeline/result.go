package pipeline

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
)

// DefaultMaxAge lets a CDN keep a variant for ten years.
const DefaultMaxAge = 315360000 * time.Second

// Result is a transformed image plus the caching metadata derived from it.
type Result struct {
	Output       domain.Blob
	ETag         string
	CacheControl string
	Expires      time.Time
	Operations   OperationSet
	Args         []string
	SourceBytes  int
}

// Assemble packages output for delivery. Content type and last-modified are
// carried over from the source object. maxAge is truncated to whole seconds
// so Expires agrees with the advertised max-age.
func Assemble(output []byte, source domain.Blob, now time.Time, maxAge time.Duration) Result {
	maxAge = maxAge.Truncate(time.Second)
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return Result{
		Output: domain.Blob{
			Data:         output,
			ContentType:  source.ContentType,
			LastModified: source.LastModified,
		},
		ETag:         ETag(len(output), source.LastModified),
		CacheControl: "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10),
		Expires:      now.Add(maxAge).UTC(),
		SourceBytes:  source.Size(),
	}
}

// ETag fingerprints a variant by its size and the source's modification
// time. Collisions only cost a revalidation.
func ETag(size int, lastModified time.Time) string {
	return fmt.Sprintf(`"%d-%d"`, size, lastModified.UnixMilli())
}

func (r Result) WriteHeaders(h http.Header) {
	if r.Output.ContentType != "" {
		h.Set("Content-Type", r.Output.ContentType)
	}
	h.Set("Cache-Control", r.CacheControl)
	h.Set("Expires", r.Expires.Format(http.TimeFormat))
	h.Set("ETag", r.ETag)
	if !r.Output.LastModified.IsZero() {
		h.Set("Last-Modified", r.Output.LastModified.UTC().Format(http.TimeFormat))
	}
}

// Base64 is the transport encoding for consumers that cannot carry raw
// bytes, such as JSON envelopes.
func (r Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Output.Data)
}
