// Package template implements spec.md's C4 TemplateCache: loading template
// bitmaps from the filesystem or a blob store reference, optional grayscale
// conversion, and LRU-with-time-eviction caching keyed on (source_ref,
// grayscale).
package template

import "time"

// Template is a single decoded, cached template bitmap. Pix is packed BGR
// (Gray=false) or single-channel (Gray=true) and must never be mutated in
// place. spec.md §4.4's "decoded pixel data must be stored read-only"
// constraint.
type Template struct {
	SourceRef  string
	Gray       bool
	Pix        []byte
	Width      int
	Height     int
	Hash       string
	LoadedAt   time.Time
	LastAccess time.Time
	AccessCount uint64
}

// key identifies a cached entry: a template is cached once per
// (source_ref, grayscale) pair since the grayscale conversion changes the
// stored bytes.
type key struct {
	sourceRef string
	gray      bool
}

// BlobLoader resolves a blob store reference (`blob://category/name`) to
// raw encoded image bytes. The production adapter backs onto the SQLite
// blob store described in spec.md §1's deliberately-out-of-scope list;
// only this interface is implemented here (spec.md §6 external adapter,
// C12). Tests supply an in-memory fake.
type BlobLoader interface {
	LoadBlob(ref string) ([]byte, error)
}
