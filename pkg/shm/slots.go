package shm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/coupledsim/fmigate/pkg/types"
)

// Typed control slots. A slot is a fixed-size value placed under a name
// in the segment; the front end constructs them, the back end finds
// them. Reads and writes are only valid while the owning side holds the
// turn.

// RealSlot is a float64 control slot.
type RealSlot struct {
	seg *Segment
	off int
}

func (r *RealSlot) Get() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(r.seg.data[r.off:]))
}

func (r *RealSlot) Set(v float64) {
	binary.LittleEndian.PutUint64(r.seg.data[r.off:], math.Float64bits(v))
}

// IntSlot is an int64 control slot.
type IntSlot struct {
	seg *Segment
	off int
}

func (i *IntSlot) Get() int64 {
	return int64(binary.LittleEndian.Uint64(i.seg.data[i.off:]))
}

func (i *IntSlot) Set(v int64) {
	binary.LittleEndian.PutUint64(i.seg.data[i.off:], uint64(v))
}

// BoolSlot is a boolean control slot.
type BoolSlot struct {
	seg *Segment
	off int
}

func (b *BoolSlot) Get() bool { return b.seg.data[b.off] != 0 }

func (b *BoolSlot) Set(v bool) {
	if v {
		b.seg.data[b.off] = 1
	} else {
		b.seg.data[b.off] = 0
	}
}

// ConstructReal places a real control slot under the given name.
func (s *Segment) ConstructReal(id string, init float64) (*RealSlot, error) {
	off, err := s.alloc(id, blockObject, uint8(types.KindReal), 1, 8)
	if err != nil {
		return nil, err
	}
	slot := &RealSlot{seg: s, off: off}
	slot.Set(init)
	return slot, nil
}

// ConstructInteger places an integer control slot under the given name.
func (s *Segment) ConstructInteger(id string, init int64) (*IntSlot, error) {
	off, err := s.alloc(id, blockObject, uint8(types.KindInteger), 1, 8)
	if err != nil {
		return nil, err
	}
	slot := &IntSlot{seg: s, off: off}
	slot.Set(init)
	return slot, nil
}

// ConstructBoolean places a boolean control slot under the given name.
func (s *Segment) ConstructBoolean(id string, init bool) (*BoolSlot, error) {
	off, err := s.alloc(id, blockObject, uint8(types.KindBoolean), 1, 8)
	if err != nil {
		return nil, err
	}
	slot := &BoolSlot{seg: s, off: off}
	slot.Set(init)
	return slot, nil
}

// FindReal locates a previously constructed real control slot.
func (s *Segment) FindReal(id string) (*RealSlot, error) {
	info, err := s.find(id, blockObject, types.KindReal)
	if err != nil {
		return nil, err
	}
	return &RealSlot{seg: s, off: info.payloadOff}, nil
}

// FindInteger locates a previously constructed integer control slot.
func (s *Segment) FindInteger(id string) (*IntSlot, error) {
	info, err := s.find(id, blockObject, types.KindInteger)
	if err != nil {
		return nil, err
	}
	return &IntSlot{seg: s, off: info.payloadOff}, nil
}

// FindBoolean locates a previously constructed boolean control slot.
func (s *Segment) FindBoolean(id string) (*BoolSlot, error) {
	info, err := s.find(id, blockObject, types.KindBoolean)
	if err != nil {
		return nil, err
	}
	return &BoolSlot{seg: s, off: info.payloadOff}, nil
}

func (s *Segment) find(id string, blockKind uint8, elemKind types.ValueKind) (blockInfo, error) {
	if !s.operational {
		s.lg.Error().Str("category", "ABORT").Str("segment", s.id).Msg("shared memory segment not initialized")
		return blockInfo{}, ErrNotOperational
	}
	info, ok := s.findBlock(id)
	if !ok {
		return blockInfo{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if info.blockKind != blockKind || info.elemKind != uint8(elemKind) {
		return blockInfo{}, fmt.Errorf("%w: %q has unexpected type", ErrBadSegment, id)
	}
	return info, nil
}

// Scalar-record layout. Each record carries a fixed-capacity name
// buffer, the value reference, causality and variability codes, and one
// typed value area. Records of all four kinds share the same size so
// vectors are uniform.
const (
	recordSize        = 152
	recNameOff        = 0
	recRefOff         = types.MaxScalarNameLen
	recCausalityOff   = recRefOff + 4
	recVariabilityOff = recCausalityOff + 1
	recValueOff       = types.MaxScalarNameLen + 8

	// String value area: offset, length and capacity of a relocatable
	// buffer allocated from segment free space.
	recStrBufOff = recValueOff
	recStrLenOff = recValueOff + 4
	recStrCapOff = recValueOff + 8
)

// Record is a typed scalar record inside a shared-memory vector. Name,
// handle, causality and type are immutable after instantiation; only the
// value slot mutates.
type Record struct {
	seg  *Segment
	off  int
	kind types.ValueKind
}

// Kind returns the record's value kind.
func (r Record) Kind() types.ValueKind { return r.kind }

// Name returns the record's variable name.
func (r Record) Name() string {
	buf := r.seg.data[r.off+recNameOff : r.off+recNameOff+types.MaxScalarNameLen]
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// SetName writes the variable name. Names must fit the fixed capacity
// including the terminator.
func (r Record) SetName(name string) error {
	if len(name) >= types.MaxScalarNameLen {
		return fmt.Errorf("shm: scalar name too long (%d chars): %q", len(name), name)
	}
	buf := r.seg.data[r.off+recNameOff : r.off+recNameOff+types.MaxScalarNameLen]
	n := copy(buf, name)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (r Record) ValueRef() types.ValueReference {
	return types.ValueReference(binary.LittleEndian.Uint32(r.seg.data[r.off+recRefOff:]))
}

func (r Record) SetValueRef(ref types.ValueReference) {
	binary.LittleEndian.PutUint32(r.seg.data[r.off+recRefOff:], uint32(ref))
}

func (r Record) Causality() types.Causality {
	return types.CausalityFromCode(r.seg.data[r.off+recCausalityOff])
}

func (r Record) SetCausality(c types.Causality) {
	r.seg.data[r.off+recCausalityOff] = c.Code()
}

func (r Record) Variability() types.Variability {
	return types.VariabilityFromCode(r.seg.data[r.off+recVariabilityOff])
}

func (r Record) SetVariability(v types.Variability) {
	r.seg.data[r.off+recVariabilityOff] = v.Code()
}

func (r Record) Real() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(r.seg.data[r.off+recValueOff:]))
}

func (r Record) SetReal(v float64) {
	binary.LittleEndian.PutUint64(r.seg.data[r.off+recValueOff:], math.Float64bits(v))
}

func (r Record) Integer() int64 {
	return int64(binary.LittleEndian.Uint64(r.seg.data[r.off+recValueOff:]))
}

func (r Record) SetInteger(v int64) {
	binary.LittleEndian.PutUint64(r.seg.data[r.off+recValueOff:], uint64(v))
}

func (r Record) Bool() bool { return r.seg.data[r.off+recValueOff] != 0 }

func (r Record) SetBool(v bool) {
	if v {
		r.seg.data[r.off+recValueOff] = 1
	} else {
		r.seg.data[r.off+recValueOff] = 0
	}
}

// String returns the record's string value.
func (r Record) String() string {
	bufOff := int(binary.LittleEndian.Uint32(r.seg.data[r.off+recStrBufOff:]))
	n := int(binary.LittleEndian.Uint32(r.seg.data[r.off+recStrLenOff:]))
	if bufOff == 0 || n == 0 {
		return ""
	}
	return string(r.seg.data[bufOff : bufOff+n])
}

// SetString writes the record's string value. Storage lives in the
// segment; when the value outgrows its buffer a larger one is allocated
// from segment free space and the record is repointed, so the record
// vector itself never resizes.
func (r Record) SetString(v string) error {
	capNow := int(binary.LittleEndian.Uint32(r.seg.data[r.off+recStrCapOff:]))
	bufOff := int(binary.LittleEndian.Uint32(r.seg.data[r.off+recStrBufOff:]))

	if len(v) > capNow || bufOff == 0 {
		newCap := 32
		for newCap < len(v) {
			newCap *= 2
		}
		off, err := r.seg.alloc("", blockRaw, uint8(types.KindString), 1, newCap)
		if err != nil {
			return err
		}
		bufOff = off
		capNow = newCap
		binary.LittleEndian.PutUint32(r.seg.data[r.off+recStrBufOff:], uint32(bufOff))
		binary.LittleEndian.PutUint32(r.seg.data[r.off+recStrCapOff:], uint32(capNow))
	}

	copy(r.seg.data[bufOff:bufOff+len(v)], v)
	binary.LittleEndian.PutUint32(r.seg.data[r.off+recStrLenOff:], uint32(len(v)))
	return nil
}

// ConstructRecordVector places a vector of n zeroed scalar records of
// the given kind under the given name.
func (s *Segment) ConstructRecordVector(id string, kind types.ValueKind, n int) ([]Record, error) {
	off, err := s.alloc(id, blockVector, uint8(kind), uint32(n), n*recordSize)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{seg: s, off: off + i*recordSize, kind: kind}
	}
	return recs, nil
}

// FindRecordVector locates a previously constructed record vector.
func (s *Segment) FindRecordVector(id string, kind types.ValueKind) ([]Record, error) {
	info, err := s.find(id, blockVector, kind)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, info.count)
	for i := range recs {
		recs[i] = Record{seg: s, off: info.payloadOff + i*recordSize, kind: kind}
	}
	return recs, nil
}

// RecordBytes returns the size one scalar record occupies, used by the
// front end's segment size estimate.
func RecordBytes() int { return recordSize }
