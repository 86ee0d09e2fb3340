package template

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

const blobScheme = "blob://"

// Loader decodes a source_ref into packed pixel bytes, converting to
// grayscale on request. Filesystem paths are read directly; blob://
// references are delegated to a BlobLoader (spec.md §4.4, §6 C12).
type Loader struct {
	Blobs BlobLoader
}

// NewLoader returns a Loader that resolves blob:// refs through blobs (may
// be nil if the cache only ever sees filesystem paths).
func NewLoader(blobs BlobLoader) *Loader {
	return &Loader{Blobs: blobs}
}

// Load resolves sourceRef, decodes it, and returns packed pixels at its
// natural size: BGR (3 bytes/px) normally, or single-channel luminance
// bytes when gray is true.
func (l *Loader) Load(sourceRef string, gray bool) (pix []byte, w, h int, hash string, err error) {
	raw, err := l.readBytes(sourceRef)
	if err != nil {
		return nil, 0, 0, "", err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("template: decode %q: %w", sourceRef, err)
	}

	sum := sha1.Sum(raw)
	hash = hex.EncodeToString(sum[:])

	bounds := img.Bounds()
	w, h = bounds.Dx(), bounds.Dy()

	if gray {
		grayImg := imaging.Grayscale(img)
		pix = make([]byte, w*h)
		gb := grayImg.Bounds()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, _, _, _ := grayImg.At(gb.Min.X+x, gb.Min.Y+y).RGBA()
				pix[y*w+x] = byte(r >> 8)
			}
		}
		return pix, w, h, hash, nil
	}

	pix = make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			o := (y*w + x) * 3
			pix[o] = byte(b >> 8)
			pix[o+1] = byte(g >> 8)
			pix[o+2] = byte(r >> 8)
		}
	}
	return pix, w, h, hash, nil
}

func (l *Loader) readBytes(sourceRef string) ([]byte, error) {
	if strings.HasPrefix(sourceRef, blobScheme) {
		if l.Blobs == nil {
			return nil, fmt.Errorf("template: no BlobLoader configured for %q", sourceRef)
		}
		return l.Blobs.LoadBlob(sourceRef)
	}
	return os.ReadFile(sourceRef)
}
