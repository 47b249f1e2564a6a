// Package tilestore keeps fetched tile payloads so a session does not hit the tile services twice.
package tilestore

import (
	"context"
	"errors"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/tilekey"
	"go.uber.org/zap"
)

var (
	ErrMiss = errors.New("tile not in store")
)

// Store holds raw payloads by kind and tile key. Keys must have their column wrapped.
type Store interface {
	Get(ctx context.Context, kind fetch.Kind, key tilekey.Key) ([]byte, error)
	Put(ctx context.Context, kind fetch.Kind, key tilekey.Key, data []byte) error
	Close() error
}

// Layered reads through its stores in order and back-fills the faster ones on a hit further
// down. A failed back-fill is logged and the hit is still returned.
type Layered struct {
	Stores []Store
	Logger *zap.SugaredLogger
}

func NewLayered(logger *zap.SugaredLogger, stores ...Store) *Layered {
	if logger == nil {
		logger = zap.S()
	}
	return &Layered{Stores: stores, Logger: logger}
}

func (l *Layered) Get(ctx context.Context, kind fetch.Kind, key tilekey.Key) ([]byte, error) {
	for i, s := range l.Stores {
		data, err := s.Get(ctx, kind, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, upper := range l.Stores[:i] {
			if err := upper.Put(ctx, kind, key, data); err != nil && ctx.Err() == nil {
				l.Logger.Warnw("tile store back-fill failed", "kind", kind, "tile", key.String(), "error", err)
			}
		}
		return data, nil
	}
	return nil, ErrMiss
}

func (l *Layered) Put(ctx context.Context, kind fetch.Kind, key tilekey.Key, data []byte) error {
	for _, s := range l.Stores {
		if err := s.Put(ctx, kind, key, data); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layered) Close() error {
	var errs []error
	for _, s := range l.Stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// CachingFetcher answers from the store and only goes to the network on a miss.
// Store failures are logged and never fail the fetch. Cancellation is never logged.
type CachingFetcher struct {
	Store  Store
	Next   fetch.Fetcher
	Logger *zap.SugaredLogger
}

func NewCachingFetcher(store Store, next fetch.Fetcher, logger *zap.SugaredLogger) *CachingFetcher {
	if logger == nil {
		logger = zap.S()
	}
	return &CachingFetcher{Store: store, Next: next, Logger: logger}
}

func (c *CachingFetcher) FetchTile(ctx context.Context, kind fetch.Kind, key tilekey.Key, url string) ([]byte, error) {
	data, err := c.Store.Get(ctx, kind, key)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, fetch.ErrAborted
	}
	if !errors.Is(err, ErrMiss) {
		c.Logger.Warnw("tile store read failed", "kind", kind, "tile", key.String(), "error", err)
	}

	data, err = c.Next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(ctx, kind, key, data); err != nil && ctx.Err() == nil {
		c.Logger.Warnw("tile store write failed", "kind", kind, "tile", key.String(), "error", err)
	}
	return data, nil
}
