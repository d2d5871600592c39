package main

import (
	"context"
	"time"
)

// RunStatsLog periodically logs a snapshot of gateway health: directory
// size, cache hit counters, API session count, and router link state.
func RunStatsLog(ctx context.Context, g *Gateway, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := g.store.Stats()
			g.log.Info("gateway stats",
				"router_state", g.mgr.State(),
				"sessions", g.apiSrv.Sessions().Count(),
				"muds", st.MudCount,
				"channels", st.ChannelCount,
				"mudlist_applies", st.MudlistApplies,
				"chanlist_applies", st.ChanlistApplies,
				"who_cache_hits", st.WhoCacheHits,
				"finger_cache_hits", st.FingerCacheHits,
				"locate_cache_hits", st.LocateCacheHits,
			)
		}
	}
}
