//go:build windows

package capture

// GDI BitBlt fallback surface. This is NOT a general capture path: DXGI
// duplication is the only backend a session may start on, and a failed
// start never falls through to here. The one case GDI serves is the
// secure desktop (UAC prompts, lock screen), where duplication either
// loses access or produces masked content while BitBlt still sees the
// composed output. The session engages it only after detecting that
// desktop and drops it as soon as duplication can be re-established.

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modGdi32 = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC     = modUser32.NewProc("GetDC")
	procReleaseDC = modUser32.NewProc("ReleaseDC")

	procCreateCompatibleDC = modGdi32.NewProc("CreateCompatibleDC")
	procDeleteDC           = modGdi32.NewProc("DeleteDC")
	procSelectObject       = modGdi32.NewProc("SelectObject")
	procBitBlt             = modGdi32.NewProc("BitBlt")
	procCreateDIBSection   = modGdi32.NewProc("CreateDIBSection")
	procDeleteObject       = modGdi32.NewProc("DeleteObject")
)

const srcCopy = 0x00CC0020

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	_      [4]byte
}

type gdiSurface struct {
	memDC   uintptr
	bmp     uintptr
	bitsPtr unsafe.Pointer
	w, h    int
}

// captureBGR blits the absolute screen rectangle r into the surface's
// DIB and packs it into dst as tight BGR (len(dst) must be w*h*3). The
// DIB is recreated when the rectangle's size changes.
func (g *gdiSurface) captureBGR(r rect, dst []byte) bool {
	w := int(r.Right - r.Left)
	h := int(r.Bottom - r.Top)
	if w <= 0 || h <= 0 {
		return false
	}
	if w != g.w || h != g.h {
		g.release()
		if !g.allocate(w, h) {
			return false
		}
	}

	srcDC, _, _ := procGetDC.Call(0)
	if srcDC == 0 {
		return false
	}
	defer procReleaseDC.Call(0, srcDC)

	ok, _, _ := procBitBlt.Call(g.memDC, 0, 0, uintptr(w), uintptr(h), srcDC, uintptr(r.Left), uintptr(r.Top), srcCopy)
	if ok == 0 {
		return false
	}

	// 32bpp top-down DIB rows are exactly w*4 bytes, but the row walk is
	// kept explicit to match the DXGI read path's stride discipline.
	src := unsafe.Slice((*byte)(g.bitsPtr), w*h*4)
	di := 0
	for y := 0; y < h; y++ {
		rowOff := y * w * 4
		for x := 0; x < w; x++ {
			o := rowOff + x*4
			dst[di] = src[o]
			dst[di+1] = src[o+1]
			dst[di+2] = src[o+2]
			di += 3
		}
	}
	return true
}

func (g *gdiSurface) allocate(w, h int) bool {
	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return false
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		return false
	}

	var bi bitmapInfo
	bi.Header.BiSize = uint32(unsafe.Sizeof(bi.Header))
	bi.Header.BiWidth = int32(w)
	bi.Header.BiHeight = -int32(h)
	bi.Header.BiPlanes = 1
	bi.Header.BiBitCount = 32
	bi.Header.BiSizeImage = uint32(w * h * 4)

	var bitsPtr unsafe.Pointer
	bmp, _, _ := procCreateDIBSection.Call(memDC, uintptr(unsafe.Pointer(&bi)), 0, uintptr(unsafe.Pointer(&bitsPtr)), 0, 0)
	if bmp == 0 {
		procDeleteDC.Call(memDC)
		return false
	}
	prev, _, _ := procSelectObject.Call(memDC, bmp)
	if prev == 0 || prev == ^uintptr(0) {
		procDeleteObject.Call(bmp)
		procDeleteDC.Call(memDC)
		return false
	}

	g.memDC = memDC
	g.bmp = bmp
	g.bitsPtr = bitsPtr
	g.w, g.h = w, h
	return true
}

func (g *gdiSurface) release() {
	if g.bmp != 0 {
		procDeleteObject.Call(g.bmp)
	}
	if g.memDC != 0 {
		procDeleteDC.Call(g.memDC)
	}
	g.bmp, g.memDC, g.bitsPtr = 0, 0, nil
	g.w, g.h = 0, 0
}
