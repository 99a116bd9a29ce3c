package pipeline

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAssemble(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastModified := time.Date(2025, 12, 24, 8, 30, 0, 0, time.UTC)
	source := domain.Blob{
		Data:         []byte("source"),
		ContentType:  "image/jpeg",
		LastModified: lastModified,
	}

	result := Assemble([]byte("transformed"), source, now, 0)

	assert.Equal(t, []byte("transformed"), result.Output.Data)
	assert.Equal(t, "image/jpeg", result.Output.ContentType)
	assert.Equal(t, "max-age=315360000", result.CacheControl)
	assert.Equal(t, now.Add(315360000*time.Second), result.Expires)
	assert.Equal(t, `"11-1766565000000"`, result.ETag)
	assert.Equal(t, 6, result.SourceBytes)
}

func TestAssembleCustomMaxAge(t *testing.T) {
	now := time.Now()
	result := Assemble([]byte("x"), domain.Blob{}, now, time.Hour)
	assert.Equal(t, "max-age=3600", result.CacheControl)
	assert.True(t, result.Expires.Equal(now.Add(time.Hour)))
}

func TestAssembleWholeSecondMaxAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := Assemble([]byte("x"), domain.Blob{}, now, 90*time.Second+750*time.Millisecond)
	assert.Equal(t, "max-age=90", result.CacheControl)
	assert.Equal(t, now.Add(90*time.Second), result.Expires)

	result = Assemble([]byte("x"), domain.Blob{}, now, 300*time.Millisecond)
	assert.Equal(t, "max-age=315360000", result.CacheControl, "sub-second falls back to the default")
}

func TestETagChangesOnlyWithSizeOrLastModified(t *testing.T) {
	lm := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, ETag(100, lm), ETag(100, lm))
	assert.NotEqual(t, ETag(100, lm), ETag(101, lm))
	assert.NotEqual(t, ETag(100, lm), ETag(100, lm.Add(time.Millisecond)))
	// A plain sum of the two components would collide here.
	assert.NotEqual(t, ETag(101, lm), ETag(100, lm.Add(time.Millisecond)))

	a := Assemble([]byte("abc"), domain.Blob{LastModified: lm}, time.Now(), 0)
	b := Assemble([]byte("xyz"), domain.Blob{LastModified: lm}, time.Now().Add(time.Hour), 0)
	assert.Equal(t, a.ETag, b.ETag)
}

func TestResultWriteHeaders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lm := time.Date(2025, 12, 24, 8, 30, 0, 0, time.UTC)
	result := Assemble([]byte("png-bytes"), domain.Blob{ContentType: "image/png", LastModified: lm}, now, time.Hour)

	h := http.Header{}
	result.WriteHeaders(h)

	assert.Equal(t, "image/png", h.Get("Content-Type"))
	assert.Equal(t, "max-age=3600", h.Get("Cache-Control"))
	assert.Equal(t, "Sun, 01 Mar 2026 13:00:00 GMT", h.Get("Expires"))
	assert.Equal(t, result.ETag, h.Get("ETag"))
	assert.Equal(t, "Wed, 24 Dec 2025 08:30:00 GMT", h.Get("Last-Modified"))
}

func TestResultBase64(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x80}
	result := Assemble(payload, domain.Blob{}, time.Now(), 0)

	decoded, err := base64.StdEncoding.DecodeString(result.Base64())
	assert.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
