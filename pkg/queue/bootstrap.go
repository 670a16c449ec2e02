package queue

import (
	"fmt"
	"time"

	"github.com/lalaz-foundation/forge/config"
	"github.com/lalaz-foundation/forge/pkg/cache"
	"github.com/lalaz-foundation/forge/pkg/database"
)

// NewManagerFromConfig builds a Manager whose Store backend and enabled
// flag follow config.QueueDriver()/config.QueueEnabled(): "memory" (the
// default), "redis" (backed by pkg/cache's client), or a relational
// driver backed by pkg/database's connection (mysql, pgsql/postgres,
// sqlite, sqlserver). Call after database.Connect()/cache.Connect() have
// run, since the relational and redis stores need those globals wired.
func NewManagerFromConfig() (*Manager, error) {
	store, err := storeFromConfig()
	if err != nil {
		return nil, err
	}

	return NewManager(store,
		WithEnabled(config.QueueEnabled()),
		WithDefaultTimeout(time.Duration(config.QueueJobTimeout())*time.Second),
	), nil
}

func storeFromConfig() (Store, error) {
	switch config.QueueDriver() {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if cache.RDB == nil {
			return nil, fmt.Errorf("queue: redis driver selected but cache.RDB is not connected")
		}
		return NewRedisStore(cache.RDB, ""), nil
	case "mysql", "pgsql", "postgres", "sqlite", "sqlserver":
		if database.DB == nil {
			return nil, fmt.Errorf("queue: %s driver selected but database.DB is not connected", config.QueueDriver())
		}
		return NewSQLStore(database.DB, config.QueueTableJobs(), config.QueueTableFailed(), config.QueueTableLogs())
	default:
		return NewMemoryStore(), nil
	}
}
