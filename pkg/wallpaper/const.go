package wallpaper

import "time"

// Storage layout
const (
	PictureTable = "Picture" // PictureTable is the key/value table holding the two cache slots
)

// Deadlines of the engine owned steps.
const (
	BingTimeout = 3 * time.Second // BingTimeout bounds the whole external fallback call
)

// Stage is a state of the resolution chain.
type Stage int

// Stage constants, in chain order.
const (
	StageCheckCache Stage = iota
	StageTryProviders
	StageTryExternalFallback
	StageTryUserDefault
	StageExhausted
)

// String returns the string representation of a Stage
func (s Stage) String() string {
	switch s {
	case StageCheckCache:
		return "CheckCache"
	case StageTryProviders:
		return "TryProviders"
	case StageTryExternalFallback:
		return "TryExternalFallback"
	case StageTryUserDefault:
		return "TryUserDefault"
	case StageExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}
