package trajclust

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Disk matrix file layout (little-endian):
//
//	offset  size  field
//	0       4     magic "TCMX"
//	4       4     version (1)
//	8       8     member count n
//	16      8     sieve stride
//	24      4     element width in bytes (4)
//	28      4     reserved
//	32      ...   n*(n-1)/2 float32 elements ordered by TriangularIndex
const (
	diskMagic        = "TCMX"
	diskVersion      = 1
	diskHeaderSize   = 32
	diskElementWidth = 4

	// fillChunk is the number of elements written per buffered chunk while
	// pre-filling a new file with Unset.
	fillChunk = 1 << 16
)

// DiskMatrix stores the compact triangle in a file so that member counts
// whose matrix does not fit in memory can still be clustered. Every access
// is a positioned read or write on the file.
type DiskMatrix struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	// mu serializes file access; not every afero.File is safe for
	// concurrent positioned I/O.
	mu       sync.Mutex
	file     afero.File
	n        int
	size     int
	sieve    int
	readOnly bool
}

// NewDiskMatrix returns an unallocated matrix that will be written to path
// on fs. sieve is recorded in the file header.
func NewDiskMatrix(fs afero.Fs, path string, sieve int, logger *zap.Logger) *DiskMatrix {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sieve < 1 {
		sieve = 1
	}
	return &DiskMatrix{fs: fs, path: path, sieve: sieve, logger: logger}
}

// OpenDiskMatrix opens a previously written matrix file for reading.
func OpenDiskMatrix(fs afero.Fs, path string, logger *zap.Logger) (*DiskMatrix, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageIO, path, err)
	}
	hdr := make([]byte, diskHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read header of %s: %v", ErrStorageIO, path, err)
	}
	n, sieve, err := decodeHeader(hdr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	size, err := NumElements(n)
	if err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrStorageIO, path, err)
	}
	if want := int64(diskHeaderSize) + int64(size)*diskElementWidth; info.Size() != want {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, header declares %d", ErrStorageIO, path, info.Size(), want)
	}
	logger.Info("opened disk matrix",
		zap.String("path", path), zap.Int("members", n), zap.Int("sieve", sieve))
	return &DiskMatrix{
		fs:       fs,
		path:     path,
		logger:   logger,
		file:     f,
		n:        n,
		size:     size,
		sieve:    sieve,
		readOnly: true,
	}, nil
}

func encodeHeader(n, sieve int) []byte {
	hdr := make([]byte, diskHeaderSize)
	copy(hdr[0:4], diskMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], diskVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(n))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(sieve))
	binary.LittleEndian.PutUint32(hdr[24:28], diskElementWidth)
	return hdr
}

func decodeHeader(hdr []byte) (n, sieve int, err error) {
	if string(hdr[0:4]) != diskMagic {
		return 0, 0, fmt.Errorf("%w: bad magic %q", ErrStorageIO, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != diskVersion {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrStorageIO, v)
	}
	if w := binary.LittleEndian.Uint32(hdr[24:28]); w != diskElementWidth {
		return 0, 0, fmt.Errorf("%w: unsupported element width %d", ErrStorageIO, w)
	}
	un := binary.LittleEndian.Uint64(hdr[8:16])
	us := binary.LittleEndian.Uint64(hdr[16:24])
	if un > math.MaxInt32 || us > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: header values out of range (members=%d sieve=%d)", ErrStorageIO, un, us)
	}
	return int(un), int(us), nil
}

// Allocate creates the file, writes the header, and fills the body with
// Unset. On failure the matrix stays unallocated.
func (m *DiskMatrix) Allocate(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		return fmt.Errorf("%w: %s already allocated for %d members", ErrAllocation, m.path, m.n)
	}
	size, err := NumElements(n)
	if err != nil {
		return err
	}
	if int64(size) > (math.MaxInt64-diskHeaderSize)/diskElementWidth {
		return fmt.Errorf("%w: %d elements exceed the file size limit", ErrAllocation, size)
	}

	f, err := m.fs.OpenFile(m.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrAllocation, m.path, err)
	}
	if err := writeBody(f, n, m.sieve, size); err != nil {
		if cerr := f.Close(); cerr != nil {
			m.logger.Warn("close partial matrix file", zap.String("path", m.path), zap.Error(cerr))
		}
		if rerr := m.fs.Remove(m.path); rerr != nil {
			m.logger.Warn("remove partial matrix file", zap.String("path", m.path), zap.Error(rerr))
		}
		return fmt.Errorf("%w: %s: %v", ErrAllocation, m.path, err)
	}

	m.file = f
	m.n = n
	m.size = size
	m.logger.Info("allocated disk matrix",
		zap.String("path", m.path),
		zap.Int("members", n),
		zap.Int("elements", size),
		zap.Int64("bytes", int64(diskHeaderSize)+int64(size)*diskElementWidth),
	)
	return nil
}

// writeBody writes the header followed by size Unset elements.
func writeBody(f afero.File, n, sieve, size int) error {
	w := bufio.NewWriterSize(f, fillChunk*diskElementWidth)
	if _, err := w.Write(encodeHeader(n, sieve)); err != nil {
		return err
	}
	var unset [diskElementWidth]byte
	binary.LittleEndian.PutUint32(unset[:], math.Float32bits(Unset))
	for k := 0; k < size; k++ {
		if _, err := w.Write(unset[:]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (m *DiskMatrix) offset(idx int) int64 {
	return int64(diskHeaderSize) + int64(idx)*diskElementWidth
}

func (m *DiskMatrix) SetElement(i, j int, d float64) error {
	if m.file == nil {
		return ErrNotAllocated
	}
	if m.readOnly {
		return fmt.Errorf("%w: %s is opened read-only", ErrStorageIO, m.path)
	}
	if err := checkPair(i, j, m.n); err != nil {
		return err
	}
	if err := checkDistance(i, j, d); err != nil {
		return err
	}
	var buf [diskElementWidth]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(d)))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file.WriteAt(buf[:], m.offset(TriangularIndex(i, j, m.n))); err != nil {
		return fmt.Errorf("%w: write (%d,%d): %v", ErrStorageIO, i, j, err)
	}
	return nil
}

func (m *DiskMatrix) GetElement(i, j int) (float64, error) {
	if m.file == nil {
		return 0, ErrNotAllocated
	}
	if err := checkPair(i, j, m.n); err != nil {
		return 0, err
	}
	return m.Element(TriangularIndex(i, j, m.n))
}

// Element returns the element at a linear triangular index.
func (m *DiskMatrix) Element(idx int) (float64, error) {
	if m.file == nil {
		return 0, ErrNotAllocated
	}
	if idx < 0 || idx >= m.size {
		return 0, fmt.Errorf("%w: linear index %d of %d", ErrIndexOutOfRange, idx, m.size)
	}
	var buf [diskElementWidth]byte

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file.ReadAt(buf[:], m.offset(idx)); err != nil {
		return 0, fmt.Errorf("%w: read element %d: %v", ErrStorageIO, idx, err)
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))), nil
}

func (m *DiskMatrix) Size() int        { return m.size }
func (m *DiskMatrix) Members() int     { return m.n }
func (m *DiskMatrix) NeedsSetup() bool { return m.file == nil }

// Sieve returns the sieve stride recorded in the file header.
func (m *DiskMatrix) Sieve() int { return m.sieve }

// Path returns the backing file path.
func (m *DiskMatrix) Path() string { return m.path }

// Sync flushes written elements to stable storage.
func (m *DiskMatrix) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrNotAllocated
	}
	if m.readOnly {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrStorageIO, m.path, err)
	}
	m.logger.Info("synced disk matrix", zap.String("path", m.path))
	return nil
}

// Close closes the backing file. The file itself is kept.
func (m *DiskMatrix) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStorageIO, m.path, err)
	}
	return nil
}
