// Command symsize reports, per function, how many bytes of the kernel
// image's .text section it occupies and how many x86-64 instructions that
// decodes to, and can emit the same data as a pprof profile so the result
// can be explored with `go tool pprof` instead of a flat text report.
package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"
	"golang.org/x/arch/x86/x86asm"
)

type funcSize struct {
	name         string
	addr         uint64
	bytes        uint64
	instructions uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[symsize] error: %s\n", err)
	os.Exit(1)
}

// textSection locates .text and the symbols ELF, sorted by address. The
// kernel image carries no DWARF debug info (A freestanding build strips it
// to keep the ramdisk small), so function boundaries come from the symbol
// table's STT_FUNC entries rather than DWARF line tables.
func textSection(f *elf.File) (*elf.Section, []elf.Symbol, error) {
	text := f.Section(".text")
	if text == nil {
		return nil, nil, errors.New("missing .text section")
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, nil, err
	}

	var funcs []elf.Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		if s.Value < text.Addr || s.Value >= text.Addr+text.Size {
			continue
		}
		funcs = append(funcs, s)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })

	return text, funcs, nil
}

// measure decodes each function's instruction stream with x86asm, counting
// instructions rather than just reporting the symbol's raw size, since a
// function padded with alignment NOPs would otherwise look bigger than the
// code it actually runs.
func measure(text *elf.Section, funcs []elf.Symbol) ([]funcSize, error) {
	data, err := text.Data()
	if err != nil {
		return nil, err
	}

	sizes := make([]funcSize, 0, len(funcs))
	for _, sym := range funcs {
		off := sym.Value - text.Addr
		if off+sym.Size > uint64(len(data)) {
			continue
		}
		body := data[off : off+sym.Size]

		var insns uint64
		for len(body) > 0 {
			inst, err := x86asm.Decode(body, 64)
			if err != nil || inst.Len == 0 {
				// Can't decode past this point (e.g. a data blob mis-tagged
				// as STT_FUNC, or a non-instruction byte run) — count what
				// was decoded so far and move on rather than aborting the
				// whole report over one bad symbol.
				break
			}
			insns++
			body = body[inst.Len:]
		}

		sizes = append(sizes, funcSize{
			name:         sym.Name,
			addr:         sym.Value,
			bytes:        sym.Size,
			instructions: insns,
		})
	}

	return sizes, nil
}

func writeText(w *os.File, sizes []funcSize) {
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].bytes > sizes[j].bytes })
	var total uint64
	for _, s := range sizes {
		total += s.bytes
		fmt.Fprintf(w, "%8d bytes  %6d insns  %#016x  %s\n", s.bytes, s.instructions, s.addr, s.name)
	}
	fmt.Fprintf(w, "%8d bytes total across %d functions\n", total, len(sizes))
}

// writeProfile packs the per-function byte counts into a pprof profile with
// a single "bytes" sample type, one Location+Function+Sample per kernel
// function, so the existing `go tool pprof` flame-graph/top views work on
// kernel .text size the same way they'd work on a CPU profile.
func writeProfile(w *os.File, sizes []funcSize) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "bytes", Unit: "bytes"}},
	}

	for i, s := range sizes {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: s.name, SystemName: s.name}
		loc := &profile.Location{ID: id, Address: s.addr, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(s.bytes)},
		})
	}

	return p.Write(w)
}

func main() {
	profileOut := flag.String("pprof", "", "write a pprof-format profile to this path instead of a text report")
	flag.Parse()

	if flag.NArg() != 1 {
		exit(errors.New("usage: symsize [-pprof out.pb.gz] <kernel-elf-image>"))
	}

	f, err := elf.Open(flag.Arg(0))
	if err != nil {
		exit(err)
	}
	defer f.Close()

	text, funcs, err := textSection(f)
	if err != nil {
		exit(err)
	}

	sizes, err := measure(text, funcs)
	if err != nil {
		exit(err)
	}

	if *profileOut == "" {
		writeText(os.Stdout, sizes)
		return
	}

	out, err := os.Create(*profileOut)
	if err != nil {
		exit(err)
	}
	defer out.Close()

	if err := writeProfile(out, sizes); err != nil {
		exit(err)
	}
}
