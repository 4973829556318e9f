package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"

	"github.com/carlziess/ra/pkg/types"
)

const (
	metaFile  = "meta"
	stateFile = "state.bin"
)

// FileBackend persists snapshots as two flat files per directory: a meta
// header file and a payload file carrying a CRC64 trailer. The meta file is
// written last, so a directory missing or failing its meta parse is by
// construction an incomplete write.
type FileBackend struct{}

var _ Backend = FileBackend{}

// NewFileBackend creates the default snapshot backend
func NewFileBackend() FileBackend {
	return FileBackend{}
}

func (FileBackend) Prepare(_ types.Meta, cur Cursor) (Ref, error) {
	buf, err := cur.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("capturing machine state: %w", err)
	}
	return Ref(buf), nil
}

func (FileBackend) Write(dir string, meta types.Meta, ref Ref) error {
	f, err := os.Create(filepath.Join(dir, stateFile))
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	crc := crc64.New(crcTable)
	w := io.MultiWriter(crc, bw)

	if _, err := w.Write(ref); err != nil {
		return err
	}

	trailer := make([]byte, 8)
	binary.BigEndian.PutUint64(trailer, crc.Sum64())
	if _, err := bw.Write(trailer); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return writeMetaFile(dir, meta)
}

func (FileBackend) Read(dir string, chunkSize int) (Outbound, error) {
	meta, err := readMetaFile(dir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, stateFile))
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if stat.Size() < 8 {
		f.Close()
		return nil, ErrInvalidFormat
	}

	trailer := make([]byte, 8)
	if _, err := f.ReadAt(trailer, stat.Size()-8); err != nil {
		f.Close()
		return nil, err
	}

	payloadLen := uint64(stat.Size() - 8)
	return &fileOutbound{
		f:         f,
		br:        bufio.NewReader(io.LimitReader(f, int64(payloadLen))),
		meta:      meta,
		crc:       binary.BigEndian.Uint64(trailer),
		chunkSize: chunkSize,
		numChunks: numChunks(payloadLen, chunkSize),
		remaining: payloadLen,
	}, nil
}

func (FileBackend) BeginAccept(dir string, crc uint64, meta types.Meta) (Accept, error) {
	f, err := os.Create(filepath.Join(dir, stateFile))
	if err != nil {
		return nil, err
	}

	return &fileAccept{
		dir:  dir,
		f:    f,
		bw:   bufio.NewWriter(f),
		crc:  crc64.New(crcTable),
		want: crc,
		meta: meta,
	}, nil
}

func (FileBackend) Recover(dir string) (types.Meta, []byte, error) {
	meta, err := readMetaFile(dir)
	if err != nil {
		return types.Meta{}, nil, err
	}

	buf, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return types.Meta{}, nil, err
	}

	if len(buf) < 8 {
		return types.Meta{}, nil, ErrInvalidFormat
	}

	payload := buf[:len(buf)-8]
	sum := binary.BigEndian.Uint64(buf[len(buf)-8:])
	if Checksum(payload) != sum {
		return types.Meta{}, nil, ErrChecksumMismatch
	}

	return meta, payload, nil
}

func (FileBackend) ReadMeta(dir string) (types.Meta, error) {
	return readMetaFile(dir)
}

func writeMetaFile(dir string, meta types.Meta) error {
	f, err := os.Create(filepath.Join(dir, metaFile))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(encodeMeta(meta)); err != nil {
		return err
	}

	return f.Sync()
}

func readMetaFile(dir string) (types.Meta, error) {
	buf, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return types.Meta{}, err
	}
	return decodeMeta(buf)
}

func numChunks(payloadLen uint64, chunkSize int) uint64 {
	if payloadLen == 0 {
		// an empty payload still travels as one empty chunk so the
		// receive side always sees a terminal chunk.
		return 1
	}
	return (payloadLen + uint64(chunkSize) - 1) / uint64(chunkSize)
}

type fileOutbound struct {
	f         *os.File
	br        *bufio.Reader
	meta      types.Meta
	crc       uint64
	chunkSize int
	numChunks uint64
	remaining uint64
	emitted   uint64
}

func (o *fileOutbound) CRC() uint64       { return o.crc }
func (o *fileOutbound) Meta() types.Meta  { return o.meta }
func (o *fileOutbound) NumChunks() uint64 { return o.numChunks }

func (o *fileOutbound) Next() ([]byte, error) {
	if o.emitted == o.numChunks {
		return nil, io.EOF
	}

	n := uint64(o.chunkSize)
	if o.remaining < n {
		n = o.remaining
	}

	chunk := make([]byte, n)
	if _, err := io.ReadFull(o.br, chunk); err != nil {
		return nil, err
	}

	o.remaining -= n
	o.emitted++
	return chunk, nil
}

func (o *fileOutbound) Close() error {
	return o.f.Close()
}

type fileAccept struct {
	dir  string
	f    *os.File
	bw   *bufio.Writer
	crc  hash.Hash64
	want uint64
	meta types.Meta
}

func (a *fileAccept) Append(chunk []byte) error {
	a.crc.Write(chunk)
	_, err := a.bw.Write(chunk)
	return err
}

func (a *fileAccept) Commit(last []byte) error {
	if err := a.Append(last); err != nil {
		a.f.Close()
		return err
	}

	if a.crc.Sum64() != a.want {
		a.f.Close()
		return ErrChecksumMismatch
	}

	trailer := make([]byte, 8)
	binary.BigEndian.PutUint64(trailer, a.crc.Sum64())
	if _, err := a.bw.Write(trailer); err != nil {
		a.f.Close()
		return err
	}

	if err := a.bw.Flush(); err != nil {
		a.f.Close()
		return err
	}

	if err := a.f.Sync(); err != nil {
		a.f.Close()
		return err
	}

	if err := a.f.Close(); err != nil {
		return err
	}

	return writeMetaFile(a.dir, a.meta)
}

func (a *fileAccept) Discard() error {
	return a.f.Close()
}
