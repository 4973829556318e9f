package storage

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/carlziess/ra/pkg/types"
)

const boltFile = "snapshot.db"

var (
	// Bucket names
	bucketMeta   = []byte("meta")
	bucketState  = []byte("state")
	bucketChunks = []byte("chunks")

	keyMeta    = []byte("meta")
	keyPayload = []byte("payload")
	keyCRC     = []byte("crc")
)

// BoltBackend persists each snapshot in a single BoltDB database inside the
// snapshot directory. Inbound chunks are staged in their own bucket and
// collapsed into the payload at commit, so a crash mid-transfer leaves only
// staging data behind and the directory stays deletable.
type BoltBackend struct{}

var _ Backend = BoltBackend{}

// NewBoltBackend creates a BoltDB-backed snapshot backend
func NewBoltBackend() BoltBackend {
	return BoltBackend{}
}

func (BoltBackend) Prepare(_ types.Meta, cur Cursor) (Ref, error) {
	buf, err := cur.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("capturing machine state: %w", err)
	}
	return Ref(buf), nil
}

func (BoltBackend) Write(dir string, meta types.Meta, ref Ref) error {
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open snapshot database: %w", err)
	}
	defer db.Close()

	crc := make([]byte, 8)
	binary.BigEndian.PutUint64(crc, Checksum(ref))

	return db.Update(func(tx *bolt.Tx) error {
		state, err := tx.CreateBucketIfNotExists(bucketState)
		if err != nil {
			return err
		}
		if err := state.Put(keyPayload, ref); err != nil {
			return err
		}
		if err := state.Put(keyCRC, crc); err != nil {
			return err
		}

		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return mb.Put(keyMeta, encodeMeta(meta))
	})
}

func (b BoltBackend) Read(dir string, chunkSize int) (Outbound, error) {
	meta, payload, err := b.Recover(dir)
	if err != nil {
		return nil, err
	}

	return &memOutbound{
		meta:      meta,
		payload:   payload,
		crc:       Checksum(payload),
		chunkSize: chunkSize,
		numChunks: numChunks(uint64(len(payload)), chunkSize),
	}, nil
}

func (BoltBackend) BeginAccept(dir string, crc uint64, meta types.Meta) (Accept, error) {
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &boltAccept{
		db:   db,
		crc:  crc64.New(crcTable),
		want: crc,
		meta: meta,
	}, nil
}

func (BoltBackend) Recover(dir string) (types.Meta, []byte, error) {
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return types.Meta{}, nil, err
	}
	defer db.Close()

	var meta types.Meta
	var payload []byte

	err = db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		state := tx.Bucket(bucketState)
		if mb == nil || state == nil {
			return ErrInvalidFormat
		}

		raw := mb.Get(keyMeta)
		if raw == nil {
			return ErrInvalidFormat
		}

		m, err := decodeMeta(raw)
		if err != nil {
			return err
		}
		meta = m

		crc := state.Get(keyCRC)
		if crc == nil {
			return ErrInvalidFormat
		}

		// Copy out: bolt memory is only valid inside the transaction.
		payload = append([]byte(nil), state.Get(keyPayload)...)

		if Checksum(payload) != binary.BigEndian.Uint64(crc) {
			return ErrChecksumMismatch
		}
		return nil
	})
	if err != nil {
		return types.Meta{}, nil, err
	}

	return meta, payload, nil
}

func (BoltBackend) ReadMeta(dir string) (types.Meta, error) {
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return types.Meta{}, err
	}
	defer db.Close()

	var meta types.Meta
	err = db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		if mb == nil {
			return ErrInvalidFormat
		}

		raw := mb.Get(keyMeta)
		if raw == nil {
			return ErrInvalidFormat
		}

		m, err := decodeMeta(raw)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return types.Meta{}, err
	}

	return meta, nil
}

type boltAccept struct {
	db   *bolt.DB
	crc  hash.Hash64
	want uint64
	meta types.Meta
	seq  uint64
}

func (a *boltAccept) Append(chunk []byte) error {
	a.crc.Write(chunk)
	a.seq++

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, a.seq)

	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(key, chunk)
	})
}

func (a *boltAccept) Commit(last []byte) error {
	a.crc.Write(last)
	if a.crc.Sum64() != a.want {
		a.db.Close()
		return ErrChecksumMismatch
	}

	err := a.db.Update(func(tx *bolt.Tx) error {
		var payload []byte
		chunks := tx.Bucket(bucketChunks)
		// Big-endian keys make cursor order arrival order.
		c := chunks.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			payload = append(payload, v...)
		}
		payload = append(payload, last...)

		crc := make([]byte, 8)
		binary.BigEndian.PutUint64(crc, a.want)

		state, err := tx.CreateBucketIfNotExists(bucketState)
		if err != nil {
			return err
		}
		if err := state.Put(keyPayload, payload); err != nil {
			return err
		}
		if err := state.Put(keyCRC, crc); err != nil {
			return err
		}

		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := mb.Put(keyMeta, encodeMeta(a.meta)); err != nil {
			return err
		}

		return tx.DeleteBucket(bucketChunks)
	})
	if err != nil {
		a.db.Close()
		return err
	}

	return a.db.Close()
}

func (a *boltAccept) Discard() error {
	return a.db.Close()
}

type memOutbound struct {
	meta      types.Meta
	payload   []byte
	crc       uint64
	chunkSize int
	numChunks uint64
	emitted   uint64
}

func (o *memOutbound) CRC() uint64       { return o.crc }
func (o *memOutbound) Meta() types.Meta  { return o.meta }
func (o *memOutbound) NumChunks() uint64 { return o.numChunks }

func (o *memOutbound) Next() ([]byte, error) {
	if o.emitted == o.numChunks {
		return nil, io.EOF
	}

	off := int(o.emitted) * o.chunkSize
	end := off + o.chunkSize
	if end > len(o.payload) {
		end = len(o.payload)
	}

	o.emitted++
	return o.payload[off:end], nil
}

func (o *memOutbound) Close() error { return nil }
