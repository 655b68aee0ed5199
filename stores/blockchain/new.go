package blockchain

import (
	"net/url"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain/memory"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain/sql"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
)

func NewStore(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (Store, error) {
	switch storeURL.Scheme {
	case "memory":
		return memory.New(), nil
	case "postgres", "sqlitememory", "sqlite":
		return sql.New(logger, storeURL, tSettings)
	}

	return nil, errors.NewConfigurationError("unknown block store scheme: %s", storeURL.Scheme)
}
