package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Assert simple assertion with message formatting
func Assert(cond bool, format string, p ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, p...))
	}
}

// Concat concatenates bytes of byte-able objects
func Concat(par ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range par {
		switch p := p.(type) {
		case []byte:
			buf.Write(p)
		case byte:
			buf.WriteByte(p)
		case string:
			buf.Write([]byte(p))
		default:
			Assert(false, "Concat: unsupported type %T", p)
		}
	}
	return buf.Bytes()
}

// ---------------------------------------------------------------------------
// r/w utility functions for the binary entry codec.
// Sizes are little-endian: 1 byte for flags, 2 bytes for key/tag lengths,
// 4 bytes for value lengths, 8 bytes for counters and timestamps

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteByte(w io.Writer, val byte) error {
	_, err := w.Write([]byte{val})
	return err
}

func ReadUint16(r io.Reader, pval *uint16) error {
	var tmp2 [2]byte
	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return err
	}
	*pval = binary.LittleEndian.Uint16(tmp2[:])
	return nil
}

func WriteUint16(w io.Writer, val uint16) error {
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], val)
	_, err := w.Write(tmp2[:])
	return err
}

func ReadUint32(r io.Reader, pval *uint32) error {
	var tmp4 [4]byte
	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return err
	}
	*pval = binary.LittleEndian.Uint32(tmp4[:])
	return nil
}

func WriteUint32(w io.Writer, val uint32) error {
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], val)
	_, err := w.Write(tmp4[:])
	return err
}

func ReadUint64(r io.Reader, pval *uint64) error {
	var tmp8 [8]byte
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return err
	}
	*pval = binary.LittleEndian.Uint64(tmp8[:])
	return nil
}

func WriteUint64(w io.Writer, val uint64) error {
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], val)
	_, err := w.Write(tmp8[:])
	return err
}

func ReadBytes16(r io.Reader) ([]byte, error) {
	var length uint16
	if err := ReadUint16(r, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func WriteBytes16(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint16 {
		return fmt.Errorf("WriteBytes16: too long data (%v)", len(data))
	}
	if err := WriteUint16(w, uint16(len(data))); err != nil {
		return err
	}
	if len(data) != 0 {
		_, err := w.Write(data)
		return err
	}
	return nil
}

func ReadBytes32(r io.Reader) ([]byte, error) {
	var length uint32
	if err := ReadUint32(r, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func WriteBytes32(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("WriteBytes32: too long data (%v)", len(data))
	}
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	if len(data) != 0 {
		_, err := w.Write(data)
		return err
	}
	return nil
}
