package template

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) LoadBlob(ref string) ([]byte, error) {
	b, ok := f.blobs[ref]
	if !ok {
		return nil, errors.New("no such blob: " + ref)
	}
	return b, nil
}

func encodedSquarePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

func TestCacheGetLoadsOnceAndTouchesLastAccess(t *testing.T) {
	blobs := &fakeBlobs{blobs: map[string][]byte{
		"blob://templates/red": encodedSquarePNG(t, 4, 4, color.RGBA{R: 255, A: 255}),
	}}
	c := NewCache(NewLoader(blobs), 8)

	tpl, err := c.Get("blob://templates/red", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tpl.Width != 4 || tpl.Height != 4 {
		t.Fatalf("size = (%d,%d), want (4,4)", tpl.Width, tpl.Height)
	}
	if len(tpl.Pix) != 4*4*3 {
		t.Fatalf("len(Pix) = %d, want %d", len(tpl.Pix), 4*4*3)
	}

	if _, err := c.Get("blob://templates/red", false); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if tpl.AccessCount != 2 {
		t.Errorf("AccessCount = %d after one hit, want 2", tpl.AccessCount)
	}
	if tpl.LastAccess.Before(tpl.LoadedAt) {
		t.Errorf("LastAccess %v is before LoadedAt %v", tpl.LastAccess, tpl.LoadedAt)
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1,1", hits, misses)
	}
}

func TestCacheKeysByGrayscaleIndependently(t *testing.T) {
	blobs := &fakeBlobs{blobs: map[string][]byte{
		"blob://templates/green": encodedSquarePNG(t, 3, 3, color.RGBA{G: 255, A: 255}),
	}}
	c := NewCache(NewLoader(blobs), 8)

	color3ch, err := c.Get("blob://templates/green", false)
	if err != nil {
		t.Fatalf("Get color: %v", err)
	}
	gray1ch, err := c.Get("blob://templates/green", true)
	if err != nil {
		t.Fatalf("Get gray: %v", err)
	}
	if len(color3ch.Pix) == len(gray1ch.Pix) {
		t.Errorf("color and gray variants must have distinct byte layouts, got equal lengths %d", len(color3ch.Pix))
	}
	if _, misses := c.Stats(); misses != 2 {
		t.Errorf("expected two independent misses for the two cache keys")
	}
}

func TestCacheWarmLoadCountsSuccessesAndFailures(t *testing.T) {
	blobs := &fakeBlobs{blobs: map[string][]byte{
		"blob://templates/a": encodedSquarePNG(t, 2, 2, color.RGBA{B: 255, A: 255}),
	}}
	c := NewCache(NewLoader(blobs), 8)

	loaded, failed := c.WarmLoad([]string{"blob://templates/a", "blob://templates/missing"}, false)
	if loaded != 1 || failed != 1 {
		t.Errorf("WarmLoad = (%d,%d), want (1,1)", loaded, failed)
	}
}

func TestLoaderRejectsUnconfiguredBlobLoader(t *testing.T) {
	l := NewLoader(nil)
	if _, _, _, _, err := l.Load("blob://templates/x", false); err == nil {
		t.Error("expected an error loading a blob:// ref with no BlobLoader configured")
	}
}
