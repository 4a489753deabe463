package wallpaper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/store"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Slot is one of the two persisted picture keys.
type Slot string

// The only legal slots.
const (
	SlotCached  Slot = "cachedPic"  // most recently resolved image, refreshed opportunistically
	SlotDefault Slot = "defaultPic" // user uploaded fallback image
)

// ParseSlot validates key against the slot list.
func ParseSlot(key string) (Slot, error) {
	switch Slot(key) {
	case SlotCached, SlotDefault:
		return Slot(key), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCacheKey, key)
	}
}

// PicCache guards a Storage so only the two picture slots can be read or written.
type PicCache struct {
	storage store.Storage
}

// NewPicCache wraps storage.
func NewPicCache(storage store.Storage) *PicCache {
	return &PicCache{storage: storage}
}

func (c *PicCache) guard(op, key string) (Slot, error) {
	slot, err := ParseSlot(key)
	if err != nil {
		log.Printf("ERROR: picture cache %s rejected: %v", op, err)
		return "", err
	}
	return slot, nil
}

// Get returns the record stored in slot key, or nil when the slot is empty.
func (c *PicCache) Get(ctx context.Context, key string) (*provider.ImageResult, error) {
	slot, err := c.guard("get", key)
	if err != nil {
		return nil, err
	}
	data, ok, err := c.storage.Get(ctx, string(slot))
	if err != nil {
		return nil, fmt.Errorf("picture cache: get %s: %w", slot, err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var img provider.ImageResult
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("picture cache: decode %s: %w", slot, err)
	}
	if !img.Valid() {
		return nil, nil
	}
	return &img, nil
}

// Set overwrites slot key with img.
func (c *PicCache) Set(ctx context.Context, key string, img *provider.ImageResult) (bool, error) {
	slot, err := c.guard("set", key)
	if err != nil {
		return false, err
	}
	if !img.Valid() {
		return false, fmt.Errorf("picture cache: set %s: %w", slot, provider.ErrInvalidImage)
	}
	data, err := json.Marshal(img)
	if err != nil {
		return false, fmt.Errorf("picture cache: encode %s: %w", slot, err)
	}
	ok, err := c.storage.Set(ctx, string(slot), data, true)
	if err != nil {
		return false, fmt.Errorf("picture cache: set %s: %w", slot, err)
	}
	return ok, nil
}

// Remove deletes slot key.
func (c *PicCache) Remove(ctx context.Context, key string) (bool, error) {
	slot, err := c.guard("remove", key)
	if err != nil {
		return false, err
	}
	ok, err := c.storage.Delete(ctx, string(slot))
	if err != nil {
		return false, fmt.Errorf("picture cache: remove %s: %w", slot, err)
	}
	return ok, nil
}
