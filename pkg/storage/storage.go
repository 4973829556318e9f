package storage

import (
	"errors"
	"fmt"

	"github.com/carlziess/ra/pkg/types"
)

var (
	ErrInvalidFormat    = errors.New("ra/storage: invalid snapshot format")
	ErrChecksumMismatch = errors.New("ra/storage: snapshot corrupted, crc mismatch")
	ErrNoSnapshot       = errors.New("ra/storage: no available snapshot")
)

// InvalidVersionError reports a snapshot written by an unknown codec version.
type InvalidVersionError struct {
	Version uint8
}

func (e InvalidVersionError) Error() string {
	return fmt.Sprintf("ra/storage: unsupported snapshot version %d", e.Version)
}

// Cursor is a release cursor: a handle over live machine state pinned at a
// committed log index. Snapshot converts that state into an immutable byte
// payload and MUST be called from the participant's own task, before any
// further log entries are applied.
type Cursor interface {
	Snapshot() ([]byte, error)
}

// Ref is an immutable machine-state capture, safe to serialize from a
// worker goroutine after the owning task has moved on.
type Ref []byte

// Outbound streams the current snapshot to a peer one chunk at a time.
// Next yields successive chunks and io.EOF after the last; each chunk is
// produced by its own call to Next. How much is read when the stream is
// opened is up to the backend: the file backend reads the payload file as
// Next is called, the bolt backend loads the whole payload into memory at
// Read. Close releases the underlying handle and is safe after EOF or
// mid-stream.
type Outbound interface {
	CRC() uint64
	Meta() types.Meta
	NumChunks() uint64
	Next() ([]byte, error)
	Close() error
}

// Accept is an in-progress inbound transfer. Exactly one of Commit or
// Discard must eventually be called to release the underlying handle.
type Accept interface {
	// Append stores a non-terminal chunk.
	Append(chunk []byte) error
	// Commit stores the final chunk, verifies the declared checksum and
	// finalizes the snapshot durably.
	Commit(last []byte) error
	// Discard abandons the transfer. The directory is left partial and
	// removable.
	Discard() error
}

// Backend materializes snapshots under concrete directories. Every method
// takes a directory path, never a participant identifier; the manager owns
// the mapping from participant to directory.
type Backend interface {
	// Prepare captures cur into an immutable Ref. Pure and synchronous;
	// runs on the participant's task.
	Prepare(meta types.Meta, cur Cursor) (Ref, error)

	// Write serializes ref and meta into dir. Runs on a worker
	// goroutine; after a successful return dir holds a complete
	// snapshot, after a failure dir is safe to delete recursively.
	Write(dir string, meta types.Meta, ref Ref) error

	// Read opens dir for outbound streaming with the given chunk size.
	Read(dir string, chunkSize int) (Outbound, error)

	// BeginAccept opens dir for inbound streaming. crc is the payload
	// checksum declared by the sender, verified at Commit.
	BeginAccept(dir string, crc uint64, meta types.Meta) (Accept, error)

	// Recover reconstructs the machine state payload persisted in dir.
	Recover(dir string) (types.Meta, []byte, error)

	// ReadMeta parses only the snapshot metadata in dir. It reports
	// ErrInvalidFormat, InvalidVersionError or ErrChecksumMismatch for
	// corrupt metadata, and the underlying I/O error when the metadata
	// cannot be read at all (for example a partial directory with no
	// metadata written yet).
	ReadMeta(dir string) (types.Meta, error)
}
