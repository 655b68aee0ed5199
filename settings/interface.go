package settings

import (
	"net/url"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
)

type Settings struct {
	ClientName     string
	DataFolder     string
	ChainCfgParams *chaincfg.Params
	Logging        LoggingSettings
	Node           NodeSettings
	BlockStore     BlockStoreSettings
	StateStore     StateStoreSettings
	LSM            LSMSettings
	VM             VMSettings
}

type LoggingSettings struct {
	Level string
	Type  string
}

type NodeSettings struct {
	// VerifyConcurrency bounds the solution verification fan-out per block, 0 means unbounded.
	VerifyConcurrency int
	SigCacheSize      int
	DedupTTL          time.Duration
	MaxOrphans        int
	TxPoolSize        int
	InputChanBuffer   int
}

type BlockStoreSettings struct {
	// StoreURL is memory://, sqlite:///<name>, sqlitememory:///<name> or postgres://.
	StoreURL             *url.URL
	PostgresMaxIdleConns int
	PostgresMaxOpenConns int
}

type StateStoreSettings struct {
	// StoreURL is memory:// or file://<dir>.
	StoreURL *url.URL
}

type LSMSettings struct {
	MaxBlockSize int
	LevelFactor  int
	SyncWAL      bool
}

type VMSettings struct {
	ReadCacheSize int
}
