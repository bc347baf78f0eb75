package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coupledsim/fmigate/pkg/types"
)

// Segment layout constants. The header is followed by a sequence of
// 8-byte-aligned named blocks; allocation is a bump pointer, blocks are
// never freed or resized. Both sides of the rendezvous map the same
// file, so all offsets are relative to the start of the mapping.
const (
	segmentMagic   uint64 = 0x31474553494d46 // "FMISEG1"
	segmentVersion uint32 = types.ProtocolVersionNumber

	headerSize      = 64
	offMagic        = 0
	offVersion      = 8
	offSegmentSize  = 16
	offUsed         = 24
	offBlockCount   = 32
	blockHeaderSize = 16

	// MinSegmentSize is the smallest segment Create accepts.
	MinSegmentSize = 4096
)

// Block kinds inside the segment.
const (
	blockObject uint8 = 1
	blockVector uint8 = 2
	blockRaw    uint8 = 3
)

var (
	// ErrNotOperational is returned by every operation on a manager whose
	// create or open failed.
	ErrNotOperational = errors.New("shm: segment not operational")

	// ErrNameTaken is returned when constructing an object under a name
	// that already exists in the segment.
	ErrNameTaken = errors.New("shm: object name already taken")

	// ErrNoSpace is returned when the segment has insufficient free space.
	ErrNoSpace = errors.New("shm: segment out of space")

	// ErrNotFound is returned when a named object cannot be located.
	ErrNotFound = errors.New("shm: object not found")

	// ErrBadSegment is returned when an opened file is not a valid segment.
	ErrBadSegment = errors.New("shm: invalid segment layout")
)

// Segment is a named shared-memory region holding typed objects, record
// vectors and the two rendezvous semaphores. The creating side owns
// removal; the opening side only unmaps on Close.
type Segment struct {
	id      string
	path    string
	file    *os.File
	data    []byte
	created bool

	semMaster *Semaphore
	semSlave  *Semaphore

	operational bool
	lg          zerolog.Logger
}

// Dir returns the directory segments live in. A tmpfs is preferred so
// the backing file never touches disk.
func Dir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\") && id != "." && id != ".."
}

// Create allocates a new named segment of the given size and constructs
// the master/slave semaphores with initial counts 1 and 0. It fails if
// the segment already exists, the name is invalid, or the OS refuses the
// allocation; on failure the returned segment is non-operational.
func Create(segmentID string, size int64, lg zerolog.Logger) (*Segment, error) {
	s := &Segment{id: segmentID, lg: lg}

	if !validID(segmentID) {
		lg.Error().Str("category", "ABORT").Str("segment", segmentID).Msg("invalid segment name")
		return s, fmt.Errorf("shm: invalid segment name %q", segmentID)
	}
	if size < MinSegmentSize {
		size = MinSegmentSize
	}

	s.path = filepath.Join(Dir(), segmentID)
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		lg.Error().Str("category", "ABORT").Err(err).Msg("unable to create shared memory segment")
		return s, fmt.Errorf("shm: create segment %q: %w", segmentID, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(s.path)
		lg.Error().Str("category", "ABORT").Err(err).Msg("unable to size shared memory segment")
		return s, fmt.Errorf("shm: size segment %q: %w", segmentID, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(s.path)
		lg.Error().Str("category", "ABORT").Err(err).Msg("unable to map shared memory segment")
		return s, fmt.Errorf("shm: map segment %q: %w", segmentID, err)
	}

	s.file = f
	s.data = data
	s.created = true

	binary.LittleEndian.PutUint64(data[offMagic:], segmentMagic)
	binary.LittleEndian.PutUint32(data[offVersion:], segmentVersion)
	binary.LittleEndian.PutUint64(data[offSegmentSize:], uint64(size))
	binary.LittleEndian.PutUint64(data[offUsed:], headerSize)
	binary.LittleEndian.PutUint32(data[offBlockCount:], 0)

	s.semMaster, err = createSemaphore(s.path+types.SemMasterSuffix, 1)
	if err != nil {
		s.teardownCreate()
		lg.Error().Str("category", "ABORT").Err(err).Msg("unable to create master semaphore")
		return s, fmt.Errorf("shm: create master semaphore: %w", err)
	}
	s.semSlave, err = createSemaphore(s.path+types.SemSlaveSuffix, 0)
	if err != nil {
		s.teardownCreate()
		lg.Error().Str("category", "ABORT").Err(err).Msg("unable to create slave semaphore")
		return s, fmt.Errorf("shm: create slave semaphore: %w", err)
	}

	s.operational = true
	return s, nil
}

// Open attaches to an existing segment and looks up both semaphores.
// It fails if the segment or either semaphore is missing; the returned
// segment is then non-operational.
func Open(segmentID string, lg zerolog.Logger) (*Segment, error) {
	s := &Segment{id: segmentID, lg: lg}

	if !validID(segmentID) {
		return s, fmt.Errorf("shm: invalid segment name %q", segmentID)
	}

	s.path = filepath.Join(Dir(), segmentID)
	f, err := os.OpenFile(s.path, os.O_RDWR, 0600)
	if err != nil {
		return s, fmt.Errorf("shm: open segment %q: %w", segmentID, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return s, fmt.Errorf("shm: stat segment %q: %w", segmentID, err)
	}
	if st.Size() < headerSize {
		f.Close()
		return s, fmt.Errorf("shm: open segment %q: %w", segmentID, ErrBadSegment)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return s, fmt.Errorf("shm: map segment %q: %w", segmentID, err)
	}

	if binary.LittleEndian.Uint64(data[offMagic:]) != segmentMagic ||
		binary.LittleEndian.Uint32(data[offVersion:]) != segmentVersion {
		unix.Munmap(data)
		f.Close()
		return s, fmt.Errorf("shm: open segment %q: %w", segmentID, ErrBadSegment)
	}

	s.file = f
	s.data = data

	s.semMaster, err = openSemaphore(s.path + types.SemMasterSuffix)
	if err != nil {
		s.Close()
		return s, fmt.Errorf("shm: open master semaphore: %w", err)
	}
	s.semSlave, err = openSemaphore(s.path + types.SemSlaveSuffix)
	if err != nil {
		s.Close()
		return s, fmt.Errorf("shm: open slave semaphore: %w", err)
	}

	s.operational = true
	return s, nil
}

// ID returns the segment name.
func (s *Segment) ID() string { return s.id }

// Operational reports whether the segment can be used for data exchange
// and synchronization.
func (s *Segment) Operational() bool { return s != nil && s.operational }

// Close unmaps the segment and closes the semaphores. It does not remove
// the backing file; see Remove.
func (s *Segment) Close() error {
	s.operational = false
	var first error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil && first == nil {
			first = err
		}
		s.data = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && first == nil {
			first = err
		}
		s.file = nil
	}
	if s.semMaster != nil {
		s.semMaster.Close()
	}
	if s.semSlave != nil {
		s.semSlave.Close()
	}
	return first
}

// Remove deletes the backing file and both semaphore endpoints. Only the
// creating side should call it.
func (s *Segment) Remove() error {
	err := os.Remove(s.path)
	os.Remove(s.path + types.SemMasterSuffix)
	os.Remove(s.path + types.SemSlaveSuffix)
	return err
}

func (s *Segment) teardownCreate() {
	s.Close()
	s.Remove()
}

// Synchronization verbs. The master waits on its own semaphore and posts
// the slave's; the slave waits on its own and posts the master's. After
// signaling, a side must not touch shared data until its next wait
// returns.

func (s *Segment) MasterWaitForSlave() error {
	if !s.operational {
		return ErrNotOperational
	}
	return s.semMaster.Wait()
}

func (s *Segment) MasterSignalToSlave() error {
	if !s.operational {
		return ErrNotOperational
	}
	return s.semSlave.Post()
}

func (s *Segment) SlaveWaitForMaster() error {
	if !s.operational {
		return ErrNotOperational
	}
	return s.semSlave.Wait()
}

func (s *Segment) SlaveSignalToMaster() error {
	if !s.operational {
		return ErrNotOperational
	}
	return s.semMaster.Post()
}

// --- allocation and lookup ---

func pad8(n int) int { return (n + 7) &^ 7 }

func (s *Segment) size() int { return len(s.data) }

func (s *Segment) used() int {
	return int(binary.LittleEndian.Uint64(s.data[offUsed:]))
}

func (s *Segment) setUsed(n int) {
	binary.LittleEndian.PutUint64(s.data[offUsed:], uint64(n))
}

// alloc places a new block and returns the payload offset. An empty name
// allocates an anonymous raw block, used for string storage.
func (s *Segment) alloc(name string, blockKind, elemKind uint8, count uint32, payloadSize int) (int, error) {
	if !s.operational {
		s.lg.Error().Str("category", "ABORT").Str("segment", s.id).Msg("shared memory segment not initialized")
		return 0, ErrNotOperational
	}
	if name != "" {
		if _, ok := s.findBlock(name); ok {
			return 0, fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
	}

	need := blockHeaderSize + pad8(len(name)) + pad8(payloadSize)
	off := s.used()
	if off+need > s.size() {
		return 0, fmt.Errorf("%w: need %d bytes, %d free", ErrNoSpace, need, s.size()-off)
	}

	binary.LittleEndian.PutUint16(s.data[off:], uint16(len(name)))
	s.data[off+2] = blockKind
	s.data[off+3] = elemKind
	binary.LittleEndian.PutUint32(s.data[off+4:], count)
	binary.LittleEndian.PutUint32(s.data[off+8:], uint32(payloadSize))
	copy(s.data[off+blockHeaderSize:], name)

	payloadOff := off + blockHeaderSize + pad8(len(name))
	s.setUsed(off + need)
	binary.LittleEndian.PutUint32(s.data[offBlockCount:],
		binary.LittleEndian.Uint32(s.data[offBlockCount:])+1)

	return payloadOff, nil
}

type blockInfo struct {
	blockKind  uint8
	elemKind   uint8
	count      uint32
	payloadOff int
	payload    int
}

func (s *Segment) findBlock(name string) (blockInfo, bool) {
	off := headerSize
	used := s.used()
	for off < used {
		nameLen := int(binary.LittleEndian.Uint16(s.data[off:]))
		info := blockInfo{
			blockKind: s.data[off+2],
			elemKind:  s.data[off+3],
			count:     binary.LittleEndian.Uint32(s.data[off+4:]),
			payload:   int(binary.LittleEndian.Uint32(s.data[off+8:])),
		}
		info.payloadOff = off + blockHeaderSize + pad8(nameLen)
		if nameLen == len(name) && nameLen > 0 &&
			string(s.data[off+blockHeaderSize:off+blockHeaderSize+nameLen]) == name {
			return info, true
		}
		off = info.payloadOff + pad8(info.payload)
	}
	return blockInfo{}, false
}
