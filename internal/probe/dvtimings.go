// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// V4L2 ioctl command encoding.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h
const (
	iocWrite = 1
	iocRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

func ioEnc(mode, typ, number, size uintptr) uintptr {
	return (mode << opPos) | (typ << typePos) | (number << numberPos) | (size << sizePos)
}

// struct v4l2_dv_timings is packed: 4 bytes type + 128 bytes union.
const dvTimingsSize = 132

var (
	// VIDIOC_S_DV_TIMINGS = _IOWR('V', 87, struct v4l2_dv_timings)
	vidiocSetDVTimings = ioEnc(iocRead|iocWrite, 'V', 87, dvTimingsSize)
	// VIDIOC_QUERY_DV_TIMINGS = _IOR('V', 99, struct v4l2_dv_timings)
	vidiocQueryDVTimings = ioEnc(iocRead, 'V', 99, dvTimingsSize)
)

// Byte offsets inside the packed struct (type at 0, bt union at 4).
const (
	offWidth       = 4
	offHeight      = 8
	offPixelclock  = 20
	offHFrontPorch = 28
	offHSync       = 32
	offHBackPorch  = 36
	offVFrontPorch = 40
	offVSync       = 44
	offVBackPorch  = 48
)

// DVTimings is the decoded subset of v4l2_bt_timings the core cares about.
type DVTimings struct {
	Width      int
	Height     int
	Pixelclock uint64
	HFront     int
	HSync      int
	HBack      int
	VFront     int
	VSync      int
	VBack      int

	raw [dvTimingsSize]byte
}

// Framerate derives frames per second from the pixel clock and the total
// frame geometry, rounded to the nearest integer.
func (t DVTimings) Framerate() int {
	htotal := t.Width + t.HFront + t.HSync + t.HBack
	vtotal := t.Height + t.VFront + t.VSync + t.VBack
	if htotal == 0 || vtotal == 0 || t.Pixelclock == 0 {
		return 0
	}
	total := uint64(htotal) * uint64(vtotal)
	return int((t.Pixelclock + total/2) / total)
}

func decodeDVTimings(raw [dvTimingsSize]byte) DVTimings {
	le := binary.LittleEndian
	return DVTimings{
		Width:      int(le.Uint32(raw[offWidth:])),
		Height:     int(le.Uint32(raw[offHeight:])),
		Pixelclock: le.Uint64(raw[offPixelclock:]),
		HFront:     int(le.Uint32(raw[offHFrontPorch:])),
		HSync:      int(le.Uint32(raw[offHSync:])),
		HBack:      int(le.Uint32(raw[offHBackPorch:])),
		VFront:     int(le.Uint32(raw[offVFrontPorch:])),
		VSync:      int(le.Uint32(raw[offVSync:])),
		VBack:      int(le.Uint32(raw[offVBackPorch:])),
		raw:        raw,
	}
}

func ioctl(fd, req, arg uintptr) error {
	if _, _, errno := sys.Syscall(sys.SYS_IOCTL, fd, req, arg); errno != 0 {
		return errno
	}
	return nil
}

// queryDVTimings asks the sub-device to measure the incoming HDMI mode.
// The driver returns ENOLINK (or ENOLCK on some kernels) when no source
// is connected.
func queryDVTimings(path string) (DVTimings, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return DVTimings{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var raw [dvTimingsSize]byte
	if err := ioctlBytes(f.Fd(), vidiocQueryDVTimings, raw[:]); err != nil {
		return DVTimings{}, fmt.Errorf("query dv timings %s: %w", path, err)
	}
	return decodeDVTimings(raw), nil
}

// setDVTimings programs the measured mode as the sub-device's active
// format. Setting timings that are already active is a no-op in the
// drivers we target, which keeps InitializeBridge idempotent.
func setDVTimings(path string, t DVTimings) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	raw := t.raw
	if err := ioctlBytes(f.Fd(), vidiocSetDVTimings, raw[:]); err != nil {
		return fmt.Errorf("set dv timings %s: %w", path, err)
	}
	return nil
}

func ioctlBytes(fd uintptr, req uintptr, buf []byte) error {
	// The buffer address must stay valid across the syscall; byte slices
	// are pinned by the Syscall contract.
	return ioctl(fd, req, uintptr(unsafe.Pointer(&buf[0])))
}
