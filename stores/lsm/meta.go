package lsm

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

const metaFileName = "meta.json"

type blockMeta struct {
	ID uint64 `json:"id"`

	// Created is the table sequence when the block was written. Revert points older than
	// every block no longer hide anything and are dropped.
	Created uint64 `json:"created"`
}

type tableMeta struct {
	Version   uint32        `json:"version"`
	Seq       uint64        `json:"seq"`
	Final     uint32        `json:"final"`
	Committed bool          `json:"committed"`
	NextBlock uint64        `json:"next_block"`
	Levels    [][]blockMeta `json:"levels"`
	Reverts   revertList    `json:"reverts,omitempty"`
}

func readMeta(dir string) (*tableMeta, error) {
	path := filepath.Join(dir, metaFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &tableMeta{}, nil
		}

		return nil, errors.NewStorageError("read %s", path, err)
	}

	meta := &tableMeta{}
	if err = json.Unmarshal(data, meta); err != nil {
		return nil, errors.NewStorageCorruptError("parse %s", path, err)
	}

	return meta, nil
}

// writeMeta replaces meta.json atomically.
func writeMeta(dir string, meta *tableMeta) error {
	path := filepath.Join(dir, metaFileName)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.NewStorageError("encode %s", path, err)
	}

	file, err := os.Create(tmp)
	if err != nil {
		return errors.NewStorageError("create %s", tmp, err)
	}

	if _, err = file.Write(data); err != nil {
		_ = file.Close()
		return errors.NewStorageError("write %s", tmp, err)
	}

	if err = file.Sync(); err != nil {
		_ = file.Close()
		return errors.NewStorageError("sync %s", tmp, err)
	}

	if err = file.Close(); err != nil {
		return errors.NewStorageError("close %s", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return errors.NewStorageError("rename %s", tmp, err)
	}

	return nil
}
