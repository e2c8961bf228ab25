package trajclust

import "errors"

// Error kinds reported by the package. Wrapped errors carry context; match
// them with errors.Is.
var (
	// ErrAllocation means the requested matrix size is invalid or not
	// supported by the storage backend.
	ErrAllocation = errors.New("trajclust: allocation failed")

	// ErrNotAllocated is returned by element access before Allocate succeeded.
	ErrNotAllocated = errors.New("trajclust: matrix not allocated")

	// ErrIndexOutOfRange means an index is >= the declared member count,
	// negative, or a diagonal (i == j) element was requested.
	ErrIndexOutOfRange = errors.New("trajclust: index out of range")

	// ErrUnsetElement means a pair was read that no writer ever stored.
	ErrUnsetElement = errors.New("trajclust: matrix element never written")

	// ErrDuplicateMember means a member index was given twice, or is
	// already owned by another live cluster.
	ErrDuplicateMember = errors.New("trajclust: duplicate cluster member")

	// ErrEmptyCluster means the operation needs at least one member.
	ErrEmptyCluster = errors.New("trajclust: empty cluster")

	// ErrStorageIO wraps read/write failures of the disk-backed matrix.
	ErrStorageIO = errors.New("trajclust: storage I/O error")

	// ErrMetricInputMismatch means two frames have differing position counts.
	ErrMetricInputMismatch = errors.New("trajclust: metric input mismatch")

	// ErrNoCentroidFrame means a frame-based metric ran before CalcCentroidFrame.
	ErrNoCentroidFrame = errors.New("trajclust: centroid frame not computed")

	// ErrAlreadySieved is returned when a sieve offset would be applied twice.
	ErrAlreadySieved = errors.New("trajclust: sieve offset already applied")

	// ErrInvalidConfig wraps config validation failures.
	ErrInvalidConfig = errors.New("trajclust: invalid config")
)
