package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/lettings/client"
	"github.com/panyam/lettings/client/stores/fs"
	"github.com/panyam/lettings/client/stores/gae"
	gormstore "github.com/panyam/lettings/client/stores/gorm"
	redisstore "github.com/panyam/lettings/client/stores/redis"
	scsstore "github.com/panyam/lettings/client/stores/scs"
	"github.com/panyam/lettings/config"
)

// OpenStorage builds the session storage selected by cfg.Store.Kind. The
// returned closer (possibly nil) releases connections.
func OpenStorage(ctx context.Context, cfg *config.Config) (client.Storage, io.Closer, error) {
	sc := cfg.Store
	switch sc.Kind {
	case config.StoreMemory:
		return client.NewMemoryStorage(), nil, nil

	case config.StoreFS:
		s, err := fs.New(sc.Path, sc.Namespace, cfg.API.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.StoreRedis:
		opts := []redisstore.Option{redisstore.WithPrefix(sc.Namespace + ":session:")}
		if sc.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(sc.TTL))
		}
		s := redisstore.New(sc.Addr, sc.Password, sc.DB, opts...)
		return s, s, nil

	case config.StoreSQLite:
		path := sc.Path
		if path == "" {
			p, err := fs.DefaultPath(sc.Namespace)
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(filepath.Dir(p), "session.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, err
		}
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		s, err := gormstore.New(db, sc.Namespace)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return s, sqlDB, nil

	case config.StoreDatastore:
		dsClient, err := datastore.NewClient(ctx, sc.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to datastore: %w", err)
		}
		return gae.New(dsClient, sc.Namespace), dsClient, nil

	case config.StoreSCS:
		// memstore lives as long as the process. No cleanup goroutine: Find
		// already ignores expired entries.
		store := memstore.NewWithCleanupInterval(0)
		return scsstore.New(store, sc.Namespace, sc.TTL), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", sc.Kind)
}
