package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/mcp-workers/internal/log"
)

// CleanupManager periodically purges expired clients and codes. Reads already
// hide expired records; this keeps storage from growing without bound.
type CleanupManager struct {
	store    Store
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(store Store, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting credential cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop ends the loop after a final purge and waits for it. Safe to call twice.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() {
		log.LogInfo("Stopping credential cleanup manager...")
		close(cm.stopChan)
	})
	<-cm.doneChan
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			cm.cleanup(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.store.PurgeExpired(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to purge expired credentials", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Purged expired credentials", map[string]any{
			"count": count,
		})
	}
}
