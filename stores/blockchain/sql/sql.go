// Package sql is the blockchain.Store on postgres or sqlite.
package sql

import (
	"net/url"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/jellydator/ttlcache/v3"
	_ "github.com/lib/pq"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/madMAx43v3r/mmx-node-sub001/util"
	"github.com/madMAx43v3r/mmx-node-sub001/util/tracing"
	"github.com/madMAx43v3r/mmx-node-sub001/util/usql"
	_ "modernc.org/sqlite"
)

const (
	blockCacheTTL      = 2 * time.Minute
	blockCacheCapacity = 1024
)

var tracer = tracing.Tracer("blockstore")

type SQL struct {
	db         *usql.DB
	engine     util.SQLEngine
	logger     ulogger.Logger
	blockCache *ttlcache.Cache[chainhash.Hash, *model.Block]
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*SQL, error) {
	logger = logger.New("bcsql")

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.SQLEngine(storeURL.Scheme)

	if err = createSchema(db, engine); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newSQL(logger, db, engine), nil
}

func newSQL(logger ulogger.Logger, db *usql.DB, engine util.SQLEngine) *SQL {
	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
		blockCache: ttlcache.New[chainhash.Hash, *model.Block](
			ttlcache.WithTTL[chainhash.Hash, *model.Block](blockCacheTTL),
			ttlcache.WithCapacity[chainhash.Hash, *model.Block](blockCacheCapacity),
		),
	}
}

func (s *SQL) GetDB() *usql.DB {
	return s.db
}

func (s *SQL) GetDBEngine() util.SQLEngine {
	return s.engine
}

func (s *SQL) Close() error {
	s.blockCache.DeleteAll()
	return s.db.Close()
}

func createSchema(db *usql.DB, engine util.SQLEngine) error {
	var (
		blob   = "BLOB"
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		stamp  = "TEXT"
	)

	if engine == util.Postgres {
		blob = "BYTEA"
		serial = "BIGSERIAL PRIMARY KEY"
		stamp = "TIMESTAMPTZ"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS state (
		  key          VARCHAR(32) PRIMARY KEY
		 ,data         ` + blob + ` NOT NULL
		 ,inserted_at  ` + stamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
		 ,updated_at   ` + stamp + ` NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blocks (
		  id             ` + serial + `
		 ,hash           ` + blob + ` NOT NULL
		 ,previous_hash  ` + blob + ` NOT NULL
		 ,height         BIGINT NOT NULL
		 ,block_time     BIGINT NOT NULL
		 ,tx_count       BIGINT NOT NULL
		 ,header         ` + blob + ` NOT NULL
		 ,data           ` + blob + ` NOT NULL
		 ,inserted_at    ` + stamp + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_blocks_hash ON blocks (hash);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_blocks_height ON blocks (height);`,
	}

	for _, q := range statements {
		if _, err := db.Exec(q); err != nil {
			return errors.NewStorageError("could not create block store schema", err)
		}
	}

	return nil
}
