package storage

import (
	"encoding/binary"
	"hash/crc64"

	"github.com/carlziess/ra/pkg/types"
)

var crcTable = crc64.MakeTable(crc64.ECMA)

// Meta codec. The encoding is the same for both backends: a fixed header
// followed by the cluster membership blob and a CRC64 of everything before
// it, so a torn write is always detectable.
//
//	magic   uint32
//	version uint8
//	term    uint64
//	index   uint64
//	clen    uint32
//	cluster [clen]byte
//	crc     uint64
const (
	metaMagic   uint32 = 0x52415348 // "RASH"
	metaVersion uint8  = 1

	metaHeaderSize = 4 + 1 + 8 + 8 + 4
)

func encodeMeta(m types.Meta) []byte {
	buf := make([]byte, metaHeaderSize+len(m.Cluster)+8)
	binary.BigEndian.PutUint32(buf[0:4], metaMagic)
	buf[4] = metaVersion
	binary.BigEndian.PutUint64(buf[5:13], uint64(m.Term))
	binary.BigEndian.PutUint64(buf[13:21], uint64(m.Index))
	binary.BigEndian.PutUint32(buf[21:25], uint32(len(m.Cluster)))
	copy(buf[metaHeaderSize:], m.Cluster)

	sum := crc64.Checksum(buf[:metaHeaderSize+len(m.Cluster)], crcTable)
	binary.BigEndian.PutUint64(buf[metaHeaderSize+len(m.Cluster):], sum)
	return buf
}

func decodeMeta(buf []byte) (types.Meta, error) {
	if len(buf) < metaHeaderSize+8 {
		return types.Meta{}, ErrInvalidFormat
	}

	if binary.BigEndian.Uint32(buf[0:4]) != metaMagic {
		return types.Meta{}, ErrInvalidFormat
	}

	if v := buf[4]; v != metaVersion {
		return types.Meta{}, InvalidVersionError{Version: v}
	}

	clen := binary.BigEndian.Uint32(buf[21:25])
	if len(buf) != metaHeaderSize+int(clen)+8 {
		return types.Meta{}, ErrInvalidFormat
	}

	body := buf[:metaHeaderSize+clen]
	sum := binary.BigEndian.Uint64(buf[metaHeaderSize+clen:])
	if crc64.Checksum(body, crcTable) != sum {
		return types.Meta{}, ErrChecksumMismatch
	}

	m := types.Meta{
		Term:  types.Term(binary.BigEndian.Uint64(buf[5:13])),
		Index: types.Index(binary.BigEndian.Uint64(buf[13:21])),
	}
	if clen > 0 {
		m.Cluster = make([]byte, clen)
		copy(m.Cluster, buf[metaHeaderSize:metaHeaderSize+clen])
	}
	return m, nil
}

// Checksum computes the payload checksum used by both backends and declared
// to peers when streaming outbound.
func Checksum(payload []byte) uint64 {
	return crc64.Checksum(payload, crcTable)
}
