package capture

import "math"

// Normalized cross-correlation core: an integral-image technique operating
// directly on packed BGR byte buffers (capture.Frame / template.Template)
// rather than *image.RGBA, since this module's Frame type carries no Go
// image.Image wrapper by design (spec.md §3 defines Frame as a raw BGR
// byte buffer).

type grayImage struct {
	gray       []float64
	integral   []float64
	integralSq []float64
	w, h       int
}

// buildGrayFromBGR computes per-pixel luminance and its integral image
// (summed-area table) for a packed BGR buffer.
func buildGrayFromBGR(pix []byte, w, h int) *grayImage {
	g := &grayImage{
		gray:       make([]float64, w*h),
		integral:   make([]float64, w*h),
		integralSq: make([]float64, w*h),
		w:          w, h: h,
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSum2 float64
		base := y * w * 3
		for x := 0; x < w; x++ {
			o := base + x*3
			b, gg, r := float64(pix[o]), float64(pix[o+1]), float64(pix[o+2])
			lum := 0.0722*b + 0.7152*gg + 0.2126*r
			off := y*w + x
			g.gray[off] = lum
			rowSum += lum
			rowSum2 += lum * lum
			if y == 0 {
				g.integral[off] = rowSum
				g.integralSq[off] = rowSum2
			} else {
				g.integral[off] = g.integral[(y-1)*w+x] + rowSum
				g.integralSq[off] = g.integralSq[(y-1)*w+x] + rowSum2
			}
		}
	}
	return g
}

// templateGray computes per-pixel luminance for a packed BGR template plus
// its aggregate mean/std, used by the NCC formula's denominator.
func templateGray(pix []byte, w, h int) (gray []float64, mean, std float64) {
	n := w * h
	gray = make([]float64, n)
	var sum, sum2 float64
	for i := 0; i < n; i++ {
		o := i * 3
		b, g, r := float64(pix[o]), float64(pix[o+1]), float64(pix[o+2])
		lum := 0.0722*b + 0.7152*g + 0.2126*r
		gray[i] = lum
		sum += lum
		sum2 += lum * lum
	}
	fn := float64(n)
	mean = sum / fn
	variance := (sum2 - sum*sum/fn) / fn
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return
}

func integralSum(table []float64, w, x0, y0, x1, y1 int) float64 {
	if x0 > x1 || y0 > y1 {
		return 0
	}
	at := func(x, y int) float64 {
		if x < 0 || y < 0 {
			return 0
		}
		return table[y*w+x]
	}
	return at(x1, y1) - at(x0-1, y1) - at(x1, y0-1) + at(x0-1, y0-1)
}

// nccSearch scans frame for the best-scoring placement of a template whose
// luminance/mean/std have already been computed, returning the best score
// and its top-left position in frame-local coordinates.
func nccSearch(frame *grayImage, tmplGray []float64, tw, th int, meanT, stdT float64) (score float64, x, y int) {
	if tw > frame.w || th > frame.h {
		return -1, 0, 0
	}
	n := float64(tw * th)
	// A flat (single-level) template has no NCC. It is scored against flat
	// windows only, by how close the two levels are: 1 for the same level.
	flatT := true
	for _, v := range tmplGray {
		flatT = flatT && v == tmplGray[0]
	}
	bestScore, bestX, bestY := -1.0, 0, 0
	for fy := 0; fy <= frame.h-th; fy++ {
		for fx := 0; fx <= frame.w-tw; fx++ {
			sumF := integralSum(frame.integral, frame.w, fx, fy, fx+tw-1, fy+th-1)
			sumF2 := integralSum(frame.integralSq, frame.w, fx, fy, fx+tw-1, fy+th-1)
			meanF := sumF / n
			varF := (sumF2 - sumF*sumF/n) / n
			if flatT {
				if s := 1 - math.Abs(meanF-meanT)/255; varF <= 1e-9 && s > bestScore {
					bestScore, bestX, bestY = s, fx, fy
				}
				continue
			}
			if varF <= 1e-9 || stdT <= 1e-9 {
				continue
			}
			stdF := math.Sqrt(varF)
			var sumFT float64
			for ty := 0; ty < th; ty++ {
				rowBase := (fy + ty) * frame.w
				tRowBase := ty * tw
				for tx := 0; tx < tw; tx++ {
					sumFT += frame.gray[rowBase+fx+tx] * tmplGray[tRowBase+tx]
				}
			}
			numer := sumFT - n*meanF*meanT
			denom := n * stdF * stdT
			if denom <= 0 {
				continue
			}
			s := numer / denom
			if s > bestScore {
				bestScore, bestX, bestY = s, fx, fy
			}
		}
	}
	return bestScore, bestX, bestY
}
