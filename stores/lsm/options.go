package lsm

import (
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
)

const (
	DefaultMaxBlockSize = 4096 * 1024
	DefaultLevelFactor  = 8
	maxLevels           = 16
)

type Options struct {
	// MaxBlockSize is the memtable size in bytes above which Commit flushes it to a block.
	MaxBlockSize int

	// LevelFactor is how many blocks a level collects before they are merged into the next.
	LevelFactor int

	// SyncWAL fsyncs the write-ahead log on every commit.
	SyncWAL bool
}

type Option func(*Options)

func WithMaxBlockSize(size int) Option {
	return func(o *Options) {
		o.MaxBlockSize = size
	}
}

func WithLevelFactor(factor int) Option {
	return func(o *Options) {
		o.LevelFactor = factor
	}
}

func WithSyncWAL(sync bool) Option {
	return func(o *Options) {
		o.SyncWAL = sync
	}
}

// WithSettings applies the LSM section of tSettings. MaxBlockSize is configured in KiB.
func WithSettings(tSettings *settings.Settings) Option {
	return func(o *Options) {
		if tSettings.LSM.MaxBlockSize > 0 {
			o.MaxBlockSize = tSettings.LSM.MaxBlockSize * 1024
		}

		if tSettings.LSM.LevelFactor > 1 {
			o.LevelFactor = tSettings.LSM.LevelFactor
		}

		o.SyncWAL = tSettings.LSM.SyncWAL
	}
}

func NewOptions(opts ...Option) Options {
	o := Options{
		MaxBlockSize: DefaultMaxBlockSize,
		LevelFactor:  DefaultLevelFactor,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.LevelFactor < 2 {
		o.LevelFactor = 2
	}

	return o
}
