package capture

import (
	"math"
	"sync"
	"time"
)

// TemplateInput is the minimal shape the Matcher needs for a single
// template: packed BGR (or single-channel grayscale, see Gray) pixels at
// their cached size. domain/template.Template values are adapted into this
// at the ScannerWorker boundary so this package stays independent of the
// template cache's LRU/blob-loading concerns.
type TemplateInput struct {
	Pix  []byte
	W, H int
	Gray bool // true if Pix is single-channel (already grayscale)
}

// MatchOptions configures a single Matcher.Find call, per spec.md §4.5.
type MatchOptions struct {
	ROI       *ROI
	Threshold float64
	Grayscale bool
}

// MatchResult is the outcome of Matcher.Find: the best score across all
// templates plus the winning template's size and frame-absolute position.
type MatchResult struct {
	Score     float64
	X, Y      int
	TemplateW int
	TemplateH int
}

const (
	earlyExitScore = 0.85
	midExitScore   = 0.30
	heavyOpsEMAThresholdMs = 80.0
	heavyOpsSkipDimensionPx = 100
)

// Matcher runs normalized cross-correlation matching with ROI cropping,
// early/mid exit heuristics, and an EMA-driven load-adaptation flag
// (spec.md §4.5), built on the integral-image NCC core in ncc.go in this
// package.
type Matcher struct {
	mu        sync.Mutex
	emaMillis float64
}

// NewMatcher returns a ready-to-use Matcher.
func NewMatcher() *Matcher { return &Matcher{} }

// Find applies opts.ROI (if any), converts the searched area to luminance
// (always, whatever opts.Grayscale says), and scans templates in order,
// returning the best (score, x, y, w, h) found.
// Coordinates returned are always in the original frame's coordinate
// space, never ROI-local (spec.md §8 testable property).
func (m *Matcher) Find(frame *Frame, templates []TemplateInput, opts MatchOptions) MatchResult {
	start := time.Now()
	if frame == nil || frame.Width == 0 || frame.Height == 0 {
		return MatchResult{}
	}

	roiX, roiY := 0, 0
	pix, w, h := frame.Pix, frame.Width, frame.Height

	heavy := m.heavyOpsSkipped()

	if opts.ROI != nil && !opts.ROI.Empty() && !heavy {
		clamped, err := opts.ROI.Clamp(frame.Width, frame.Height)
		if err != nil {
			return MatchResult{}
		}
		roiX, roiY = clamped.Left, clamped.Top
		w, h = clamped.Right-clamped.Left, clamped.Bottom-clamped.Top
		pix = cropBGR(frame.Pix, frame.Width, clamped)
	}

	if len(templates) == 0 {
		m.recordDuration(start)
		return MatchResult{}
	}

	frameGray := buildGrayFromBGR(pix, w, h)

	best := MatchResult{}
	processed := 0
	for _, t := range templates {
		if heavy && (t.W > heavyOpsSkipDimensionPx || t.H > heavyOpsSkipDimensionPx) {
			continue
		}
		if t.W > w || t.H > h {
			continue // template larger than the searched area: skip
		}

		var tGray []float64
		var meanT, stdT float64
		if t.Gray {
			tGray, meanT, stdT = grayFromSingleChannel(t.Pix, t.W, t.H)
		} else {
			tGray, meanT, stdT = templateGray(t.Pix, t.W, t.H)
		}

		score, x, y := nccSearch(frameGray, tGray, t.W, t.H, meanT, stdT)
		processed++
		if score > best.Score {
			best = MatchResult{Score: score, X: x + roiX, Y: y + roiY, TemplateW: t.W, TemplateH: t.H}
		}

		if best.Score >= earlyExitScore {
			break // early exit: good enough, stop iterating further templates
		}
		if processed >= (len(templates)+1)/2 && best.Score < midExitScore {
			break // mid exit: halfway through and still hopeless
		}
	}

	m.recordDuration(start)
	return best
}

// recordDuration updates the EMA of match call duration that drives the
// heavy-ops-skipped flag.
func (m *Matcher) recordDuration(start time.Time) {
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	const alpha = 0.2
	if m.emaMillis == 0 {
		m.emaMillis = elapsedMs
	} else {
		m.emaMillis = alpha*elapsedMs + (1-alpha)*m.emaMillis
	}
}

func (m *Matcher) heavyOpsSkipped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emaMillis > heavyOpsEMAThresholdMs
}

func cropBGR(pix []byte, fullW int, roi ROI) []byte {
	w, h := roi.Right-roi.Left, roi.Bottom-roi.Top
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		srcOff := ((roi.Top+y)*fullW + roi.Left) * 3
		dstOff := y * w * 3
		copy(out[dstOff:dstOff+w*3], pix[srcOff:srcOff+w*3])
	}
	return out
}

func grayFromSingleChannel(pix []byte, w, h int) (gray []float64, mean, std float64) {
	n := w * h
	gray = make([]float64, n)
	var sum, sum2 float64
	for i := 0; i < n && i < len(pix); i++ {
		v := float64(pix[i])
		gray[i] = v
		sum += v
		sum2 += v * v
	}
	fn := float64(n)
	mean = sum / fn
	variance := (sum2 - sum*sum/fn) / fn
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return
}
