package domain

import "time"

// Blob is an object body together with the metadata the pipeline carries
// from the source object to the response.
type Blob struct {
	Data         []byte
	ContentType  string
	LastModified time.Time
}

func (b Blob) Size() int {
	return len(b.Data)
}
