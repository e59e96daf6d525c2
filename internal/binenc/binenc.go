// Package binenc holds little-endian record helpers: fixed-width integers
// and uint32-length-prefixed byte strings. The sparse index encodes and
// decodes its entries with them; the value log and the sorted-table data
// file use encoding/binary directly. No on-disk record in flashkv carries
// a checksum; NewCRC and MultiWriter are not used by any record format.
package binenc

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"
)

// WriteUint32 writes v in little-endian order.
func WriteUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// WriteUint64 writes v in little-endian order.
func WriteUint64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// ReadUint64 reads a little-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// WriteBytesWithLen writes a uint32 length prefix followed by b.
func WriteBytesWithLen(w io.Writer, b []byte) error {
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytesWithLen reads a uint32 length prefix followed by that many bytes.
func ReadBytesWithLen(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewCRC returns a fresh IEEE CRC32 hasher, the same checksum the teacher's
// WAL encoder used for its frame.
func NewCRC() hash.Hash32 { return crc32.NewIEEE() }

// MultiWriter mirrors the teacher's io.MultiWriter(file, crc) pattern so a
// single pass over the payload both writes it and feeds the checksum.
func MultiWriter(w io.Writer, crc hash.Hash32) io.Writer {
	return io.MultiWriter(w, crc)
}
