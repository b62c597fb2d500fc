package osdetect

import (
	"bytes"
	"io"

	"gitlab.com/tozd/go/errors"
)

// Format is the container format of a medium.
type Format string

const (
	FormatISO   Format = "iso"
	FormatQCOW2 Format = "qcow2"
	FormatRaw   Format = "raw"
)

// ErrUnsupported is returned for files that are neither install media nor
// a bootable disk image.
var ErrUnsupported = errors.New("unsupported medium")

var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// isoMagic is the standard identifier of the primary volume descriptor
	// at sector 16.
	isoMagic  = []byte("CD001")
	isoOffset = int64(16*2048 + 1)

	// mbrSignature ends the first 512-byte sector of a bootable disk. GPT
	// disks carry it too in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectFormat classifies r by its magic bytes. Hybrid ISO images carry an
// MBR signature as well, so the ISO check runs before the raw one.
func DetectFormat(r io.ReaderAt) (Format, error) {
	magic := make([]byte, len(qcow2Magic))
	if _, err := r.ReadAt(magic, 0); err != nil {
		return "", errors.Errorf("%w: file too small to be an image (< 4 bytes)", ErrUnsupported)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	id := make([]byte, len(isoMagic))
	if _, err := r.ReadAt(id, isoOffset); err == nil && bytes.Equal(id, isoMagic) {
		return FormatISO, nil
	}

	sig := make([]byte, len(mbrSignature))
	if _, err := r.ReadAt(sig, 510); err != nil {
		return "", errors.Errorf("%w: file too small for a boot sector (< 512 bytes)", ErrUnsupported)
	}
	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", errors.Errorf("%w: not an iso, not qcow2 and no boot sector signature", ErrUnsupported)
}
