//go:build windows

package capture

// DXGI Desktop Duplication backend: the native capture surface behind
// CaptureSession. One outputDuplicator owns a D3D11 device, an
// IDXGIOutputDuplication for a single output, and a CPU-readable staging
// texture sized to the output's native (pre-rotation) dimensions.

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modD3D11 = windows.NewLazySystemDLL("d3d11.dll")

	procD3D11CreateDevice = modD3D11.NewProc("D3D11CreateDevice")

	// Secure-desktop detection and attachment (UAC prompts, lock screen).
	procOpenInputDesktop          = modUser32.NewProc("OpenInputDesktop")
	procSetThreadDesktop          = modUser32.NewProc("SetThreadDesktop")
	procCloseDesktop              = modUser32.NewProc("CloseDesktop")
	procGetUserObjectInformationW = modUser32.NewProc("GetUserObjectInformationW")
)

const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20
	d3d11UsageStaging            = 3
	d3d11CPUAccessRead           = 0x20000
	dxgiFormatB8G8R8A8           = 87

	dxgiErrWaitTimeout   = 0x887A0027
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrInvalidCall   = 0x887A0001
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceReset   = 0x887A0007
	dxgiErrNotFound      = 0x887A0002

	desktopGenericAll = 0x10000000
	uoiName           = 2

	// COM vtable indices.
	dxgiDeviceGetAdapter       = 7  // IDXGIDevice
	dxgiAdapterEnumOutputs     = 7  // IDXGIAdapter
	dxgiOutputGetDesc          = 7  // IDXGIOutput
	dxgiOutput1DuplicateOutput = 22 // IDXGIOutput1
	dxgiDuplGetDesc            = 7  // IDXGIOutputDuplication
	dxgiDuplAcquireNextFrame   = 8  // IDXGIOutputDuplication
	dxgiDuplReleaseFrame       = 14 // IDXGIOutputDuplication
	d3d11DeviceCreateTexture2D = 5  // ID3D11Device
	d3d11CtxMap                = 14 // ID3D11DeviceContext
	d3d11CtxUnmap              = 15 // ID3D11DeviceContext
	d3d11CtxCopyResource       = 47 // ID3D11DeviceContext
)

var (
	iidIDXGIDevice     = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidIDXGIOutput1    = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
	iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
)

// Duplication loss classes the session reacts to differently: access
// lost usually means a desktop switch (UAC/lock screen) or mode change;
// device gone means the adapter itself reset.
var (
	errDuplAccessLost = errors.New("capture: duplication access lost")
	errDuplDeviceGone = errors.New("capture: d3d11 device removed or reset")
)

type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32
}

type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

type dxgiOutputDesc struct {
	DeviceName         [32]uint16
	DesktopCoordinates rect
	AttachedToDesktop  int32
	Rotation           uint32
	Monitor            uintptr
}

// outputDuplicator owns the D3D11/DXGI objects for one duplicated output.
type outputDuplicator struct {
	device      uintptr
	context     uintptr
	duplication uintptr
	staging     uintptr

	desktopW, desktopH int  // logical desktop dims (post-rotation)
	texW, texH         int  // native texture dims (pre-rotation)
	rotation           uint32
	desktopRect        rect // absolute desktop coordinates of this output
}

// newOutputDuplicator creates a duplicator for the first output pick
// accepts. pick receives each output's 0-based index and absolute desktop
// rectangle; returning true selects it.
func newOutputDuplicator(pick func(index int, desktop rect) bool) (*outputDuplicator, error) {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		0, uintptr(d3dDriverTypeHardware), 0,
		uintptr(d3d11CreateDeviceBGRASupport),
		uintptr(unsafe.Pointer(&featureLevel)), 1,
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&actualLevel)),
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		// Some drivers reject the BGRA flag; retry with a plain device.
		hr, _, _ = procD3D11CreateDevice.Call(
			0, uintptr(d3dDriverTypeHardware), 0, 0,
			uintptr(unsafe.Pointer(&featureLevel)), 1,
			uintptr(d3d11SDKVersion),
			uintptr(unsafe.Pointer(&device)),
			uintptr(unsafe.Pointer(&actualLevel)),
			uintptr(unsafe.Pointer(&context)),
		)
	}
	if int32(hr) < 0 {
		return nil, fmt.Errorf("capture: D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}

	fail := func(err error) (*outputDuplicator, error) {
		comRelease(context)
		comRelease(device)
		return nil, err
	}

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		return fail(fmt.Errorf("capture: QueryInterface IDXGIDevice: %w", err))
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		return fail(fmt.Errorf("capture: IDXGIDevice::GetAdapter: %w", err))
	}
	defer comRelease(adapter)

	output, desc, err := selectOutput(adapter, pick)
	if err != nil {
		return fail(err)
	}

	var output1 uintptr
	_, err = comCall(output, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&output1)))
	comRelease(output)
	if err != nil {
		return fail(fmt.Errorf("capture: QueryInterface IDXGIOutput1: %w", err))
	}
	defer comRelease(output1)

	var duplication uintptr
	if _, err := comCall(output1, dxgiOutput1DuplicateOutput,
		device, uintptr(unsafe.Pointer(&duplication))); err != nil {
		return fail(fmt.Errorf("capture: IDXGIOutput1::DuplicateOutput: %w", err))
	}

	// Dimensions come from GetDesc, not a probing AcquireNextFrame: the
	// first acquire can legitimately time out on a static desktop.
	var duplDesc dxgiOutDuplDesc
	hrDesc, _, _ := syscall.SyscallN(comVtblFn(duplication, dxgiDuplGetDesc),
		duplication, uintptr(unsafe.Pointer(&duplDesc)))
	if int32(hrDesc) < 0 {
		comRelease(duplication)
		return fail(fmt.Errorf("capture: IDXGIOutputDuplication::GetDesc failed: 0x%08X", uint32(hrDesc)))
	}
	desktopW := int(duplDesc.ModeDesc.Width)
	desktopH := int(duplDesc.ModeDesc.Height)
	if desktopW <= 0 || desktopH <= 0 {
		comRelease(duplication)
		return fail(fmt.Errorf("capture: invalid duplication dimensions %dx%d", desktopW, desktopH))
	}

	// Acquired textures are in native (pre-rotation) orientation; ModeDesc
	// reports post-rotation desktop dims. The staging texture must match
	// the native dims or CopyResource fails; pixels are rotated on readback.
	texW, texH := desktopW, desktopH
	if duplDesc.Rotation == 2 || duplDesc.Rotation == 4 {
		texW, texH = desktopH, desktopW
	}

	stagingDesc := d3d11Texture2DDesc{
		Width:          uint32(texW),
		Height:         uint32(texH),
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8,
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	var staging uintptr
	if _, err := comCall(device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&stagingDesc)), 0, uintptr(unsafe.Pointer(&staging))); err != nil {
		comRelease(duplication)
		return fail(fmt.Errorf("capture: CreateTexture2D staging: %w", err))
	}

	return &outputDuplicator{
		device:      device,
		context:     context,
		duplication: duplication,
		staging:     staging,
		desktopW:    desktopW,
		desktopH:    desktopH,
		texW:        texW,
		texH:        texH,
		rotation:    duplDesc.Rotation,
		desktopRect: desc.DesktopCoordinates,
	}, nil
}

func selectOutput(adapter uintptr, pick func(index int, desktop rect) bool) (uintptr, dxgiOutputDesc, error) {
	for i := 0; ; i++ {
		var output uintptr
		hr, _, _ := syscall.SyscallN(comVtblFn(adapter, dxgiAdapterEnumOutputs),
			adapter, uintptr(i), uintptr(unsafe.Pointer(&output)))
		if uint32(hr) == dxgiErrNotFound || int32(hr) < 0 {
			return 0, dxgiOutputDesc{}, fmt.Errorf("capture: no DXGI output accepted (checked %d)", i)
		}
		var desc dxgiOutputDesc
		hrDesc, _, _ := syscall.SyscallN(comVtblFn(output, dxgiOutputGetDesc),
			output, uintptr(unsafe.Pointer(&desc)))
		if int32(hrDesc) >= 0 && pick(i, desc.DesktopCoordinates) {
			return output, desc, nil
		}
		comRelease(output)
	}
}

// acquireInto waits up to timeoutMs for the next desktop update and, when
// one arrived, maps the staging texture and hands read the mapped base
// pointer plus the GPU row pitch — which is routinely larger than
// width*4 and must never be assumed equal to it. Returns (false, nil)
// when no new frame accumulated.
func (d *outputDuplicator) acquireInto(timeoutMs uint32, read func(pData uintptr, rowPitch int)) (bool, error) {
	var frameInfo dxgiOutDuplFrameInfo
	var resource uintptr
	hr, _, _ := syscall.SyscallN(comVtblFn(d.duplication, dxgiDuplAcquireNextFrame),
		d.duplication, uintptr(timeoutMs),
		uintptr(unsafe.Pointer(&frameInfo)), uintptr(unsafe.Pointer(&resource)))

	switch uint32(hr) {
	case dxgiErrWaitTimeout:
		return false, nil
	case dxgiErrAccessLost, dxgiErrInvalidCall:
		return false, errDuplAccessLost
	case dxgiErrDeviceRemoved, dxgiErrDeviceReset:
		return false, errDuplDeviceGone
	}
	if int32(hr) < 0 {
		return false, fmt.Errorf("capture: AcquireNextFrame: 0x%08X", uint32(hr))
	}

	releaseFrame := func() {
		syscall.SyscallN(comVtblFn(d.duplication, dxgiDuplReleaseFrame), d.duplication)
	}

	if frameInfo.AccumulatedFrames == 0 {
		comRelease(resource)
		releaseFrame()
		return false, nil
	}

	var texture uintptr
	_, err := comCall(resource, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&texture)))
	comRelease(resource)
	if err != nil {
		releaseFrame()
		return false, fmt.Errorf("capture: QueryInterface ID3D11Texture2D: %w", err)
	}

	syscall.SyscallN(comVtblFn(d.context, d3d11CtxCopyResource), d.context, d.staging, texture)
	comRelease(texture)

	var mapped d3d11MappedSubresource
	hrMap, _, _ := syscall.SyscallN(comVtblFn(d.context, d3d11CtxMap),
		d.context, d.staging, 0, 1 /* D3D11_MAP_READ */, 0, uintptr(unsafe.Pointer(&mapped)))
	if int32(hrMap) < 0 {
		releaseFrame()
		return false, fmt.Errorf("capture: Map staging texture: 0x%08X", uint32(hrMap))
	}

	read(mapped.PData, int(mapped.RowPitch))

	syscall.SyscallN(comVtblFn(d.context, d3d11CtxUnmap), d.context, d.staging, 0)
	releaseFrame()
	return true, nil
}

// readRegionBGR packs the desktop-space region r (coordinates local to
// this output, already clipped) into dst as tightly-packed BGR, undoing
// display rotation where needed. pData/rowPitch come from acquireInto.
func (d *outputDuplicator) readRegionBGR(pData uintptr, rowPitch int, r rect, dst []byte) {
	w := int(r.Right - r.Left)
	h := int(r.Bottom - r.Top)
	switch d.rotation {
	case 2: // 90° — desktop(ox,oy) = native(oy, texH-1-ox)
		for y := 0; y < h; y++ {
			oy := int(r.Top) + y
			for x := 0; x < w; x++ {
				ox := int(r.Left) + x
				src := unsafe.Slice((*byte)(unsafe.Pointer(pData+uintptr((d.texH-1-ox)*rowPitch+oy*4))), 4)
				di := (y*w + x) * 3
				dst[di], dst[di+1], dst[di+2] = src[0], src[1], src[2]
			}
		}
	case 4: // 270° — desktop(ox,oy) = native(texW-1-oy, ox)
		for y := 0; y < h; y++ {
			oy := int(r.Top) + y
			sx := d.texW - 1 - oy
			for x := 0; x < w; x++ {
				ox := int(r.Left) + x
				src := unsafe.Slice((*byte)(unsafe.Pointer(pData+uintptr(ox*rowPitch+sx*4))), 4)
				di := (y*w + x) * 3
				dst[di], dst[di+1], dst[di+2] = src[0], src[1], src[2]
			}
		}
	default:
		for y := 0; y < h; y++ {
			srcRow := unsafe.Slice((*byte)(unsafe.Pointer(pData+uintptr((int(r.Top)+y)*rowPitch+int(r.Left)*4))), w*4)
			di := y * w * 3
			for x := 0; x < w; x++ {
				o := x * 4
				dst[di] = srcRow[o]
				dst[di+1] = srcRow[o+1]
				dst[di+2] = srcRow[o+2]
				di += 3
			}
		}
	}
}

func (d *outputDuplicator) release() {
	comRelease(d.staging)
	comRelease(d.duplication)
	comRelease(d.context)
	comRelease(d.device)
	d.staging, d.duplication, d.context, d.device = 0, 0, 0, 0
}

// inputDesktopName returns the name of the currently active input desktop
// ("Default" normally, "Winlogon"/"Screen-saver" on secure desktops), or
// "" when it cannot be read.
func inputDesktopName() string {
	hDesk, _, _ := procOpenInputDesktop.Call(0, 0, uintptr(desktopGenericAll))
	if hDesk == 0 {
		return ""
	}
	defer procCloseDesktop.Call(hDesk)
	return desktopName(hDesk)
}

func desktopName(hDesk uintptr) string {
	var buf [128]uint16
	var needed uint32
	ret, _, _ := procGetUserObjectInformationW.Call(hDesk, uoiName,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)*2), uintptr(unsafe.Pointer(&needed)))
	if ret == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:])
}

// onSecureDesktop reports whether the input desktop is anything other
// than Default (UAC prompt, lock screen).
func onSecureDesktop() bool {
	name := inputDesktopName()
	return name != "" && !strings.EqualFold(name, "Default")
}

// switchToInputDesktop attaches the calling thread (which must be locked
// to its OS thread) to the active input desktop so the GDI fallback can
// blit secure-desktop content. Best-effort.
func switchToInputDesktop() bool {
	hDesk, _, _ := procOpenInputDesktop.Call(0, 0, uintptr(desktopGenericAll))
	if hDesk == 0 {
		return false
	}
	ret, _, _ := procSetThreadDesktop.Call(hDesk)
	if ret == 0 {
		procCloseDesktop.Call(hDesk)
		return false
	}
	return true
}
