package capture

import "testing"

// solidFrame builds a w x h BGR frame filled with (b,g,r), with a
// distinguishable patch of (pb,pg,pr) painted at (px,py,pw,ph).
func solidFrame(w, h int, b, g, r byte) *Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = b
		pix[i*3+1] = g
		pix[i*3+2] = r
	}
	return &Frame{Pix: pix, Width: w, Height: h}
}

func paintPatch(f *Frame, px, py, pw, ph int, b, g, r byte) {
	for y := py; y < py+ph; y++ {
		for x := px; x < px+pw; x++ {
			o := (y*f.Width + x) * 3
			f.Pix[o], f.Pix[o+1], f.Pix[o+2] = b, g, r
		}
	}
}

func patchTemplate(w, h int, b, g, r byte) TemplateInput {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3], pix[i*3+1], pix[i*3+2] = b, g, r
	}
	return TemplateInput{Pix: pix, W: w, H: h}
}

// Seed scenario 1 (spec.md §8): a frame with a distinct patch matches its
// own-colored template at high score, at the patch's own coordinates.
func TestMatcherFindsExactPatch(t *testing.T) {
	frame := solidFrame(30, 20, 10, 10, 10)
	paintPatch(frame, 5, 5, 10, 10, 200, 50, 50)
	tmpl := patchTemplate(10, 10, 200, 50, 50)

	m := NewMatcher()
	res := m.Find(frame, []TemplateInput{tmpl}, MatchOptions{Threshold: 0.9})

	if res.Score < 0.9 {
		t.Fatalf("expected score >= 0.9, got %v", res.Score)
	}
	if res.X != 5 || res.Y != 5 {
		t.Fatalf("expected match at (5,5), got (%d,%d)", res.X, res.Y)
	}
	if res.TemplateW != 10 || res.TemplateH != 10 {
		t.Fatalf("expected template size (10,10), got (%d,%d)", res.TemplateW, res.TemplateH)
	}
}

// Seed scenario 2 (spec.md §8): ROI-cropped coordinates must be reported
// in full-frame space, not ROI-local space.
func TestMatcherROIOffsetCorrectness(t *testing.T) {
	frame := solidFrame(200, 200, 10, 10, 10)
	paintPatch(frame, 120, 80, 20, 15, 220, 220, 220)
	tmpl := patchTemplate(20, 15, 220, 220, 220)

	roi := &ROI{Left: 100, Top: 60, Right: 200, Bottom: 200}
	m := NewMatcher()
	res := m.Find(frame, []TemplateInput{tmpl}, MatchOptions{ROI: roi, Threshold: 0.8})

	if res.X != 120 || res.Y != 80 {
		t.Fatalf("expected frame-absolute match (120,80), got (%d,%d): ROI-local coords leaked", res.X, res.Y)
	}
}

func TestMatcherZeroTemplatesReturnsZeroScore(t *testing.T) {
	frame := solidFrame(10, 10, 1, 2, 3)
	m := NewMatcher()
	res := m.Find(frame, nil, MatchOptions{Threshold: 0.5})
	if res.Score != 0 {
		t.Fatalf("expected score 0 for zero templates, got %v", res.Score)
	}
}

func TestMatcherROIFullyOutsideFrameReturnsZeroWithoutPanicking(t *testing.T) {
	frame := solidFrame(10, 10, 1, 2, 3)
	tmpl := patchTemplate(2, 2, 1, 2, 3)
	roi := &ROI{Left: 50, Top: 50, Right: 60, Bottom: 60}

	m := NewMatcher()
	res := m.Find(frame, []TemplateInput{tmpl}, MatchOptions{ROI: roi, Threshold: 0.5})
	if res.Score != 0 || res.X != 0 || res.Y != 0 {
		t.Fatalf("expected zero-value result for out-of-frame ROI, got %+v", res)
	}
}

func TestMatcherSkipsTemplateLargerThanSearchArea(t *testing.T) {
	frame := solidFrame(5, 5, 1, 2, 3)
	tooBig := patchTemplate(10, 10, 1, 2, 3)

	m := NewMatcher()
	res := m.Find(frame, []TemplateInput{tooBig}, MatchOptions{Threshold: 0.5})
	if res.Score != 0 {
		t.Fatalf("expected oversized template to be skipped (score 0), got %v", res.Score)
	}
}

// Early exit: a template scoring >= 0.85 must stop iteration before a
// later, differently-scored template is processed.
func TestMatcherEarlyExitStopsAfterHighScore(t *testing.T) {
	frame := solidFrame(20, 20, 10, 10, 10)
	paintPatch(frame, 2, 2, 4, 4, 250, 250, 250)

	exact := patchTemplate(4, 4, 250, 250, 250)
	decoy := patchTemplate(4, 4, 0, 0, 0) // would score very low if reached

	m := NewMatcher()
	res := m.Find(frame, []TemplateInput{exact, decoy}, MatchOptions{Threshold: 0.5})
	if res.Score < earlyExitScore {
		t.Fatalf("expected early-exit-triggering score >= %v, got %v", earlyExitScore, res.Score)
	}
}

func TestMatcherNilFrameReturnsZeroValue(t *testing.T) {
	m := NewMatcher()
	res := m.Find(nil, []TemplateInput{patchTemplate(2, 2, 1, 1, 1)}, MatchOptions{Threshold: 0.5})
	if res.Score != 0 {
		t.Fatalf("expected zero-value result for nil frame, got %+v", res)
	}
}
