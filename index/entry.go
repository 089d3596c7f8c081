// Package index keeps the per-key metadata the validation pipeline needs to
// decide hit/miss without touching other entries: the tag snapshots captured
// at write time, the TTL window and the approximate LRU stamp. Metadata is
// persisted inside the stored record and reconstituted lazily after restart.
package index

import (
	"bytes"
	"fmt"
	"io"

	"github.com/zoocache/zoocache.go/common"
	"github.com/zoocache/zoocache.go/tagtrie"
)

const entryVersion = byte(1)

const (
	flagHasExpiry = byte(0x01)
	flagTTI       = byte(0x02)
)

// TagSnap pairs a tag with the freshness witness captured for it at write time.
type TagSnap struct {
	Tag  string
	Snap tagtrie.Snapshot
}

// Entry is the stored record for one key: value bytes plus the metadata
// needed to validate it on read.
type Entry struct {
	Snaps     []TagSnap
	CreatedAt int64 // unix nanos
	ExpiresAt int64 // unix nanos, 0 means no TTL
	TTI       bool
	Value     []byte
}

// Write serializes the entry
func (e *Entry) Write(w io.Writer) error {
	if err := common.WriteByte(w, entryVersion); err != nil {
		return err
	}
	flags := byte(0)
	if e.ExpiresAt != 0 {
		flags |= flagHasExpiry
	}
	if e.TTI {
		flags |= flagTTI
	}
	if err := common.WriteByte(w, flags); err != nil {
		return err
	}
	if err := common.WriteUint64(w, uint64(e.CreatedAt)); err != nil {
		return err
	}
	if e.ExpiresAt != 0 {
		if err := common.WriteUint64(w, uint64(e.ExpiresAt)); err != nil {
			return err
		}
	}
	if len(e.Snaps) > int(^uint16(0)) {
		return fmt.Errorf("entry: too many tag snapshots (%d)", len(e.Snaps))
	}
	if err := common.WriteUint16(w, uint16(len(e.Snaps))); err != nil {
		return err
	}
	for i := range e.Snaps {
		if err := common.WriteBytes16(w, []byte(e.Snaps[i].Tag)); err != nil {
			return err
		}
		if err := common.WriteUint64(w, e.Snaps[i].Snap.Counter); err != nil {
			return err
		}
		if err := common.WriteUint64(w, e.Snaps[i].Snap.Subtree); err != nil {
			return err
		}
	}
	return common.WriteBytes32(w, e.Value)
}

// Bytes is the serialized form of the entry
func (e *Entry) Bytes() []byte {
	var buf bytes.Buffer
	if err := e.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Read deserializes the entry
func (e *Entry) Read(r io.Reader) error {
	version, err := common.ReadByte(r)
	if err != nil {
		return err
	}
	if version != entryVersion {
		return fmt.Errorf("entry: unsupported version %d", version)
	}
	flags, err := common.ReadByte(r)
	if err != nil {
		return err
	}
	e.TTI = flags&flagTTI != 0
	var tmp8 uint64
	if err = common.ReadUint64(r, &tmp8); err != nil {
		return err
	}
	e.CreatedAt = int64(tmp8)
	e.ExpiresAt = 0
	if flags&flagHasExpiry != 0 {
		if err = common.ReadUint64(r, &tmp8); err != nil {
			return err
		}
		e.ExpiresAt = int64(tmp8)
	}
	var numSnaps uint16
	if err = common.ReadUint16(r, &numSnaps); err != nil {
		return err
	}
	e.Snaps = make([]TagSnap, numSnaps)
	for i := range e.Snaps {
		tag, errt := common.ReadBytes16(r)
		if errt != nil {
			return errt
		}
		e.Snaps[i].Tag = string(tag)
		if err = common.ReadUint64(r, &e.Snaps[i].Snap.Counter); err != nil {
			return err
		}
		if err = common.ReadUint64(r, &e.Snaps[i].Snap.Subtree); err != nil {
			return err
		}
	}
	e.Value, err = common.ReadBytes32(r)
	return err
}

// EntryFromBytes deserializes the stored record
func EntryFromBytes(data []byte) (*Entry, error) {
	ret := &Entry{}
	rdr := bytes.NewReader(data)
	if err := ret.Read(rdr); err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	if rdr.Len() > 0 {
		return nil, common.ErrNotAllBytesConsumed
	}
	return ret, nil
}
