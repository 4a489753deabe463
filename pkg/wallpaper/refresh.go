package wallpaper

import (
	"context"
	"errors"
	"fmt"

	"github.com/dixieflatline76/TabSpice/util"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Coordinator keeps at most one cache refresh running.
type Coordinator struct {
	resolver Resolver
	cache    *PicCache
	running  *util.SafeFlag
	done     *util.SafeCounter
}

// NewCoordinator creates a coordinator that resolves with resolver and writes into cache.
func NewCoordinator(resolver Resolver, cache *PicCache) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		cache:    cache,
		running:  util.NewSafeBool(),
		done:     util.NewSafeInt(),
	}
}

// InProgress reports whether a refresh currently holds the flag.
func (c *Coordinator) InProgress() bool {
	return c.running.Value()
}

// Completed returns how many refreshes have written cachedPic.
func (c *Coordinator) Completed() int {
	return c.done.Value()
}

// TriggerRefresh resolves without the cache and writes the result into cachedPic.
// It returns false immediately when another refresh is running, and false when
// the refresh itself failed.
func (c *Coordinator) TriggerRefresh(ctx context.Context) bool {
	err := c.Refresh(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrRefreshSkipped):
		log.Debugf("Refresh already in progress, dropping request")
	default:
		log.Printf("Refresh failed: %v", err)
	}
	return false
}

// Refresh runs a refresh on the calling goroutine. It returns ErrRefreshSkipped
// when another refresh is running.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.running.TryAcquire() {
		return ErrRefreshSkipped
	}
	defer c.running.Release()
	return c.refreshLocked(ctx)
}

func (c *Coordinator) refreshLocked(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	img := c.resolver.Resolve(ctx, ResolveOptions{SkipUserDefault: true})
	if img == nil {
		return ErrNothingResolved
	}
	if _, err := c.cache.Set(ctx, string(SlotCached), img); err != nil {
		return err
	}
	n := c.done.Increment()
	log.Printf("Cache refreshed from %s %s (#%d)", img.SourceType, img.SourceAddress, n)
	return nil
}
