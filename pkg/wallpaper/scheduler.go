package wallpaper

import (
	"context"
	"time"

	"github.com/dixieflatline76/TabSpice/util/log"
)

// Run refreshes the cache once at startup and then every interval until ctx is done.
// A non-positive interval only performs the startup refresh.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) error {
	log.Print("Starting cache refresher...")
	c.TriggerRefresh(ctx)

	if every <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.TriggerRefresh(ctx)
		case <-ctx.Done():
			log.Print("Stopping cache refresher.")
			return nil
		}
	}
}
