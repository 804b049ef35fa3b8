// Package health reports engine liveness for the metrics listener.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tobiasma/picfetch/cache"
	"github.com/tobiasma/picfetch/downloader"
	"github.com/tobiasma/picfetch/internal/logger"
)

const checkInterval = 30 * time.Second

// Status is a snapshot of the engine.
type Status struct {
	Healthy         bool   `json:"healthy"`
	CacheBytes      uint64 `json:"cache_bytes"`
	CacheEntries    int    `json:"cache_entries"`
	ActiveDownloads int    `json:"active_downloads"`
	QueuedDownloads int    `json:"queued_downloads"`
}

// Checker periodically snapshots the engine state.
type Checker struct {
	Ctx        context.Context
	Cache      *cache.AutoPurging
	Downloader *downloader.Downloader
	Log        *logger.Logger

	mu     sync.RWMutex
	status Status
}

// Run blocks, refreshing the status until the context is done.
func (c *Checker) Run() {
	c.refresh()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-c.Ctx.Done():
			return
		}
	}
}

func (c *Checker) refresh() {
	status := Status{Healthy: true}

	if c.Cache != nil {
		status.CacheBytes = c.Cache.MemoryUsage()
		status.CacheEntries = c.Cache.Len()
	}
	if c.Downloader != nil {
		status.ActiveDownloads = c.Downloader.ActiveCount()
		status.QueuedDownloads = c.Downloader.QueuedCount()
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	c.Log.Debugw("health check",
		"cache-bytes", status.CacheBytes,
		"cache-entries", status.CacheEntries,
		"active-downloads", status.ActiveDownloads,
		"queued-downloads", status.QueuedDownloads,
	)
}

// Status returns the latest snapshot.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ServeHTTP serves the snapshot as json.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Status())
}
