package vmm

import (
	"coderunner/kernel"
	"coderunner/kernel/mem"
	ksync "coderunner/kernel/sync"
)

var (
	// ErrAlreadyReserved is returned by ReserveSpecific when the requested
	// range overlaps a byte that is already reserved.
	ErrAlreadyReserved = &kernel.Error{Module: "vmm_tracker", Message: "range is already reserved"}
)

// Tracker records, via a run-length encoded boolean bitmap, which bytes of a
// half-open virtual range [Base, Limit) are currently reserved. It answers
// "find N free pages" and "reserve this exact range" for a single address
// space. One Tracker exists per address space; all access is serialized by
// its internal spinlock.
//
// The encoding stores the boolean value of the first run plus the exclusive
// end address of each run in order. Runs always have positive length,
// adjacent runs always differ in value, and the run lengths always sum to
// Limit-Base; edits preserve this by merging equal-valued neighbors after
// every write (see setRangeLocked).
type Tracker struct {
	mu ksync.Spinlock

	base, limit uintptr

	// bounds[i] is the exclusive end address of run i. bounds[len-1] is
	// always equal to limit.
	bounds []uintptr

	// values[i] is true if run i is reserved.
	values []bool
}

// NewTracker creates a Tracker over the half-open range [base, limit) with
// every byte initially set to startValue (true: reserved, false: free).
func NewTracker(base, limit uintptr, startValue bool) *Tracker {
	return &Tracker{
		base:   base,
		limit:  limit,
		bounds: []uintptr{limit},
		values: []bool{startValue},
	}
}

// Base returns the lower bound of the tracked range.
func (t *Tracker) Base() uintptr { return t.base }

// Limit returns the (exclusive) upper bound of the tracked range.
func (t *Tracker) Limit() uintptr { return t.limit }

// RunLengths returns the length of each run in address order. It is exposed
// primarily so tests can assert on the tracker's internal RLE shape.
func (t *Tracker) RunLengths() []uint64 {
	t.mu.Acquire()
	defer t.mu.Release()

	lengths := make([]uint64, len(t.bounds))
	start := t.base
	for i, end := range t.bounds {
		lengths[i] = uint64(end - start)
		start = end
	}
	return lengths
}

// StartValue returns the reservation state of the first run.
func (t *Tracker) StartValue() bool {
	t.mu.Acquire()
	defer t.mu.Release()
	return t.values[0]
}

// ReserveSpecific marks [lo, hi) as reserved. It fails with ErrAlreadyReserved
// if any byte in the range is already reserved, leaving the tracker
// unmodified.
func (t *Tracker) ReserveSpecific(lo, hi uintptr) *kernel.Error {
	t.mu.Acquire()
	defer t.mu.Release()

	lo, hi = t.clamp(lo, hi)
	if lo >= hi {
		return nil
	}

	if t.anyReservedLocked(lo, hi) {
		return ErrAlreadyReserved
	}

	t.setRangeLocked(lo, hi, true)
	return nil
}

// ReserveUnchecked marks [lo, hi) as reserved unconditionally, overwriting
// whatever reservation state the range previously had.
func (t *Tracker) ReserveUnchecked(lo, hi uintptr) {
	t.mu.Acquire()
	defer t.mu.Release()

	lo, hi = t.clamp(lo, hi)
	if lo >= hi {
		return
	}
	t.setRangeLocked(lo, hi, true)
}

// Release marks [lo, hi) as free. Releasing bytes that are already free is a
// no-op; Release never fails and never panics, since ELF segment unmapping
// may legitimately over-release.
func (t *Tracker) Release(lo, hi uintptr) {
	t.mu.Acquire()
	defer t.mu.Release()

	lo, hi = t.clamp(lo, hi)
	if lo >= hi {
		return
	}
	t.setRangeLocked(lo, hi, false)
}

// Allocate finds the lowest-addressed free run that, once its start is
// rounded up to alignment, has at least pages*mem.PageSize free bytes
// remaining, reserves that window and returns its start address. It returns
// false if no such run exists.
func (t *Tracker) Allocate(pages uint64, alignment uintptr) (uintptr, bool) {
	t.mu.Acquire()
	defer t.mu.Release()

	if pages == 0 {
		return 0, false
	}
	if alignment == 0 {
		alignment = 1
	}
	need := uintptr(pages) * uintptr(mem.PageSize)

	start := t.base
	for i, end := range t.bounds {
		runStart, runEnd := start, end
		start = end

		if t.values[i] {
			continue
		}

		alignedStart := alignUp(runStart, alignment)
		if alignedStart < runStart || alignedStart > runEnd {
			continue
		}
		if alignedStart+need < alignedStart || alignedStart+need > runEnd {
			continue
		}

		t.setRangeLocked(alignedStart, alignedStart+need, true)
		return alignedStart, true
	}

	return 0, false
}

// anyReservedLocked returns true if any byte in [lo, hi) is reserved. The
// caller must hold t.mu.
func (t *Tracker) anyReservedLocked(lo, hi uintptr) bool {
	start := t.base
	for i, end := range t.bounds {
		runStart, runEnd := start, end
		start = end

		if runEnd <= lo {
			continue
		}
		if runStart >= hi {
			break
		}
		if t.values[i] {
			return true
		}
	}
	return false
}

// setRangeLocked overwrites [lo, hi) with value, splitting/merging runs as
// needed to preserve the RLE invariants. The caller must hold t.mu and must
// have already clamped lo/hi into [t.base, t.limit) with lo < hi.
func (t *Tracker) setRangeLocked(lo, hi uintptr, value bool) {
	// Locate the run containing lo.
	i, start := 0, t.base
	for t.bounds[i] <= lo {
		start = t.bounds[i]
		i++
	}

	newBounds := append([]uintptr{}, t.bounds[:i]...)
	newValues := append([]bool{}, t.values[:i]...)

	if start < lo {
		// Left remainder of the straddling run keeps its old value.
		newBounds = append(newBounds, lo)
		newValues = append(newValues, t.values[i])
	}

	newBounds = append(newBounds, hi)
	newValues = append(newValues, value)

	// Consume every run fully covered by [lo, hi).
	for i < len(t.bounds) && t.bounds[i] <= hi {
		i++
	}

	// Keep the remainder of the run straddling hi, if any.
	if i < len(t.bounds) {
		newBounds = append(newBounds, t.bounds[i])
		newValues = append(newValues, t.values[i])
		i++
	}

	newBounds = append(newBounds, t.bounds[i:]...)
	newValues = append(newValues, t.values[i:]...)

	t.bounds, t.values = compress(newBounds, newValues)
}

// clamp restricts [lo, hi) to the tracker's tracked range, saturating rather
// than overflowing if the caller passes addresses outside of it.
func (t *Tracker) clamp(lo, hi uintptr) (uintptr, uintptr) {
	if lo < t.base {
		lo = t.base
	}
	if hi > t.limit {
		hi = t.limit
	}
	return lo, hi
}

// compress merges adjacent runs that share the same value, which may have
// been produced by a setRangeLocked edit.
func compress(bounds []uintptr, values []bool) ([]uintptr, []bool) {
	outBounds := make([]uintptr, 0, len(bounds))
	outValues := make([]bool, 0, len(values))

	for i, v := range values {
		if len(outValues) > 0 && outValues[len(outValues)-1] == v {
			outBounds[len(outBounds)-1] = bounds[i]
			continue
		}
		outBounds = append(outBounds, bounds[i])
		outValues = append(outValues, v)
	}

	return outBounds, outValues
}

// alignUp rounds addr up to the nearest multiple of alignment, which must be
// a power of two.
func alignUp(addr, alignment uintptr) uintptr {
	mask := alignment - 1
	return (addr + mask) &^ mask
}
