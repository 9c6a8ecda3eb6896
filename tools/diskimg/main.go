// Command diskimg concatenates the kernel ELF and the ring-3 ramdisk ELF
// into the flat image cmd/kernel's multiboot2 loader expects as a boot
// module, prefixed with a small header carrying a human-readable volume
// label for whatever boots the image (a USB stick, a QEMU -drive file).
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// headerMagic identifies the image to cmd/kernel's own loader; labelSize is
// the fixed-width field the header reserves for the volume label, matching
// the same fixed-width-ASCII-field convention the FAT/ISO9660 volume
// descriptors this format is modeled on both use.
const (
	headerMagic = 0x4b45524e4c424c00 // "KERNLBL\0" as a big-endian uint64
	labelSize   = 32
)

type header struct {
	Magic       uint64
	Label       [labelSize]byte
	KernelSize  uint64
	RamdiskSize uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[diskimg] error: %s\n", err)
	os.Exit(1)
}

// encodeLabel renders label in IBM code page 437, the legacy OEM encoding
// FAT/ISO9660 volume labels use, so a label containing the project's own
// non-ASCII branding still round-trips through tooling (disk utilities,
// bootloader menus) that only understands that code page. Bytes outside
// CP437's repertoire are rejected rather than silently mangled.
func encodeLabel(label string) ([labelSize]byte, error) {
	var out [labelSize]byte

	encoded, err := charmap.CodePage437.NewEncoder().String(label)
	if err != nil {
		return out, fmt.Errorf("label %q is not representable in code page 437: %w", label, err)
	}
	if len(encoded) > labelSize {
		return out, fmt.Errorf("label %q is %d bytes encoded, exceeds the %d-byte field", label, len(encoded), labelSize)
	}

	copy(out[:], encoded)
	return out, nil
}

func readWhole(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func build(kernelPath, ramdiskPath, label, outPath string) error {
	kernel, err := readWhole(kernelPath)
	if err != nil {
		return err
	}
	ramdisk, err := readWhole(ramdiskPath)
	if err != nil {
		return err
	}

	labelField, err := encodeLabel(label)
	if err != nil {
		return err
	}

	hdr := header{
		Magic:       headerMagic,
		Label:       labelField,
		KernelSize:  uint64(len(kernel)),
		RamdiskSize: uint64(len(ramdisk)),
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := binary.Write(out, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := out.Write(kernel); err != nil {
		return err
	}
	if _, err := out.Write(ramdisk); err != nil {
		return err
	}

	return nil
}

func main() {
	kernelPath := flag.String("kernel", "", "path to the built kernel ELF")
	ramdiskPath := flag.String("ramdisk", "", "path to the built ring-3 ELF to embed as the boot ramdisk module")
	label := flag.String("label", "GOPHEROS", "volume label stored in the image header")
	out := flag.String("out", "disk.img", "output image path")
	flag.Parse()

	if *kernelPath == "" || *ramdiskPath == "" {
		exit(errors.New("usage: diskimg -kernel <elf> -ramdisk <elf> [-label NAME] [-out disk.img]"))
	}

	if err := build(*kernelPath, *ramdiskPath, *label, *out); err != nil {
		exit(err)
	}
}
