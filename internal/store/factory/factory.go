package factory

import (
	"github.com/loykin/panelsweep/internal/store"
	"github.com/loykin/panelsweep/internal/store/bolt"
	pg "github.com/loykin/panelsweep/internal/store/postgres"
	"github.com/loykin/panelsweep/internal/store/redis"
	sq "github.com/loykin/panelsweep/internal/store/sqlite"
)

func init() {
	store.RegisterStoreType("sqlite", func(c store.Config) (store.Store, error) {
		db, err := sq.New(c)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
	store.RegisterStoreType("postgres", newPostgres)
	store.RegisterStoreType("postgresql", newPostgres)
	store.RegisterStoreType("bolt", func(c store.Config) (store.Store, error) {
		db, err := bolt.New(c)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
	store.RegisterStoreType("redis", func(c store.Config) (store.Store, error) {
		db, err := redis.New(c)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}

// Builders return an untyped nil on failure so callers never hold a non-nil
// Store wrapping a nil pointer.
func newPostgres(c store.Config) (store.Store, error) {
	db, err := pg.New(c)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// New selects a store implementation based on config.Type.
// Supported: file (default), sqlite, postgres, bolt, redis.
func New(config store.Config) (store.Store, error) {
	return store.CreateStore(config)
}
