package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/config"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

// app carries what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

// store opens the deployment record with the configured save lock.
func (a *app) store(ctx context.Context) (*store.FileStore, error) {
	var locker store.Locker
	switch a.cfg.Store.Lock {
	case "file":
		locker = store.NewFileLocker(a.cfg.Store.Path)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locker = store.NewRedisLocker(rdb, a.cfg.Store.LockKey, a.cfg.Store.LockTTL)
	default:
		locker = store.NopLocker{}
	}
	return store.NewFileStore(a.cfg.Store.Path, locker), nil
}

// ledger dials the configured node.
func (a *app) ledger(ctx context.Context) (*chain.Client, error) {
	c, err := chain.Dial(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *app) artifacts() contracts.Artifacts {
	return contracts.Artifacts{Dir: a.cfg.Artifacts.Dir}
}
