package lsm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/bsv-blockchain/go-wire"
	"github.com/cespare/xxhash"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

const (
	walInsert byte = 1
	walCommit byte = 2
	walRevert byte = 3

	walFileName   = "wal.log"
	maxRecordSize = 64 << 20
)

type walRecord struct {
	kind    byte
	version uint32
	seq     uint64
	key     []byte
	value   []byte
}

// wal is the write-ahead log of the memtable. Records are framed as
// varint(len) | payload | xxhash64(payload).
type wal struct {
	path string
	file *os.File
	w    *bufio.Writer
	sync bool
}

func openWAL(path string, sync bool) (*wal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.NewStorageError("open wal %s", path, err)
	}

	return &wal{path: path, file: file, w: bufio.NewWriter(file), sync: sync}, nil
}

func (l *wal) append(rec walRecord) error {
	var payload bytes.Buffer

	payload.WriteByte(rec.kind)
	_ = wire.WriteVarInt(&payload, 0, uint64(rec.version))

	switch rec.kind {
	case walInsert:
		_ = wire.WriteVarInt(&payload, 0, rec.seq)

		if rec.value == nil {
			payload.WriteByte(1)
		} else {
			payload.WriteByte(0)
		}

		_ = wire.WriteVarBytes(&payload, 0, rec.key)
		_ = wire.WriteVarBytes(&payload, 0, rec.value)
	case walRevert:
		_ = wire.WriteVarInt(&payload, 0, rec.seq)
	}

	if err := wire.WriteVarInt(l.w, 0, uint64(payload.Len())); err != nil {
		return errors.NewStorageError("write wal", err)
	}

	if _, err := l.w.Write(payload.Bytes()); err != nil {
		return errors.NewStorageError("write wal", err)
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(payload.Bytes()))

	if _, err := l.w.Write(sum[:]); err != nil {
		return errors.NewStorageError("write wal", err)
	}

	return nil
}

// flush pushes buffered records to the OS, and to disk when sync is set or forced.
func (l *wal) flush(force bool) error {
	if err := l.w.Flush(); err != nil {
		return errors.NewStorageError("flush wal", err)
	}

	if l.sync || force {
		if err := l.file.Sync(); err != nil {
			return errors.NewStorageError("sync wal", err)
		}
	}

	return nil
}

// reset truncates the log once its contents live in a block file.
func (l *wal) reset() error {
	if err := l.w.Flush(); err != nil {
		return errors.NewStorageError("flush wal", err)
	}

	if err := l.file.Truncate(0); err != nil {
		return errors.NewStorageError("truncate wal", err)
	}

	return l.flush(true)
}

func (l *wal) close() error {
	if err := l.flush(false); err != nil {
		return err
	}

	if err := l.file.Close(); err != nil {
		return errors.NewStorageError("close wal", err)
	}

	return nil
}

// replayWAL calls fn for every intact record. A torn or corrupt tail ends the replay,
// it is what a crash in the middle of a write leaves behind.
func replayWAL(path string, fn func(rec walRecord)) (torn bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, errors.NewStorageError("open wal %s", path, err)
	}

	defer file.Close()

	r := bufio.NewReader(file)

	for {
		size, err := wire.ReadVarInt(r, 0)
		if err == io.EOF {
			return false, nil
		}

		if err != nil || size == 0 || size > maxRecordSize {
			return true, nil
		}

		payload := make([]byte, size)
		if _, err = io.ReadFull(r, payload); err != nil {
			return true, nil
		}

		var sum [8]byte
		if _, err = io.ReadFull(r, sum[:]); err != nil {
			return true, nil
		}

		if binary.LittleEndian.Uint64(sum[:]) != xxhash.Sum64(payload) {
			return true, nil
		}

		rec, err := decodeWALRecord(payload)
		if err != nil {
			return true, nil
		}

		fn(rec)
	}
}

func decodeWALRecord(payload []byte) (walRecord, error) {
	r := bytes.NewReader(payload)

	var rec walRecord

	kind, err := r.ReadByte()
	if err != nil {
		return rec, err
	}

	rec.kind = kind

	version, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return rec, err
	}

	rec.version = uint32(version) //nolint:gosec // written from a uint32

	switch kind {
	case walInsert:
		if rec.seq, err = wire.ReadVarInt(r, 0); err != nil {
			return rec, err
		}

		deleted, err := r.ReadByte()
		if err != nil {
			return rec, err
		}

		if rec.key, err = wire.ReadVarBytes(r, 0, maxRecordSize, "key"); err != nil {
			return rec, err
		}

		value, err := wire.ReadVarBytes(r, 0, maxRecordSize, "value")
		if err != nil {
			return rec, err
		}

		if deleted == 0 {
			rec.value = append([]byte{}, value...)
		}
	case walRevert:
		if rec.seq, err = wire.ReadVarInt(r, 0); err != nil {
			return rec, err
		}
	case walCommit:
	default:
		return rec, errors.NewStorageCorruptError("unknown wal record %d", kind)
	}

	return rec, nil
}
