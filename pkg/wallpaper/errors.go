package wallpaper

import "errors"

var (
	// ErrUnknownProviderType is reported when a config names an adapter nobody registered.
	ErrUnknownProviderType = errors.New("unknown provider type")
	// ErrInvalidCacheKey is a caller bug: only the two slots may be touched.
	ErrInvalidCacheKey = errors.New("invalid cache key")
	// ErrRefreshSkipped means another refresh holds the flag; try again later.
	ErrRefreshSkipped = errors.New("refresh already in progress")
	// ErrNothingResolved means every source of a refresh came back empty.
	ErrNothingResolved = errors.New("no image resolved")
)
