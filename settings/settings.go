package settings

import (
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
)

func NewSettings() *Settings {
	params, err := chaincfg.GetChainParams(getString("network", "mainnet"))
	if err != nil {
		panic(err)
	}

	return &Settings{
		ClientName:     getString("clientName", "mmx-node"),
		DataFolder:     getString("dataFolder", "data"),
		ChainCfgParams: params,
		Logging: LoggingSettings{
			Level: getString("logLevel", "INFO"),
			Type:  getString("logger", "zerolog"),
		},
		Node: NodeSettings{
			VerifyConcurrency: getInt("node_verifyConcurrency", 0),
			SigCacheSize:      getInt("node_sigCacheSize", 65536),
			DedupTTL:          getDuration("node_dedupTTL", 0),
			MaxOrphans:        getInt("node_maxOrphans", 1024),
			TxPoolSize:        getInt("node_txPoolSize", 100_000),
			InputChanBuffer:   getInt("node_inputChanBuffer", 1024),
		},
		BlockStore: BlockStoreSettings{
			StoreURL:             getURL("blockstore", "sqlite:///blockchain"),
			PostgresMaxIdleConns: getInt("blockstore_postgresMaxIdleConns", 10),
			PostgresMaxOpenConns: getInt("blockstore_postgresMaxOpenConns", 80),
		},
		StateStore: StateStoreSettings{
			StoreURL: getURL("statestore", "file://./data/state"),
		},
		LSM: LSMSettings{
			MaxBlockSize: getInt("lsm_maxBlockSize", 4096),
			LevelFactor:  getInt("lsm_levelFactor", 8),
			SyncWAL:      getBool("lsm_syncWAL", false),
		},
		VM: VMSettings{
			ReadCacheSize: getInt("vm_readCacheSize", 100_000),
		},
	}
}
