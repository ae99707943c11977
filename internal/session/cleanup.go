package session

import (
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
)

// CleanupManager periodically evicts expired logins and sessions from
// a Store
type CleanupManager struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupManager creates a cleanup manager for the store
func NewCleanupManager(store *Store, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background cleanup loop
func (m *CleanupManager) Start() {
	go m.run()
	log.LogInfoWithFields("session", "Started session cleanup", map[string]any{
		"interval": m.interval.String(),
	})
}

// Stop halts the cleanup loop and waits for it to exit
func (m *CleanupManager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *CleanupManager) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.store.Cleanup(); removed > 0 {
				logins, sessions := m.store.Counts()
				log.LogDebugWithFields("session", "Evicted expired entries", map[string]any{
					"removed":  removed,
					"logins":   logins,
					"sessions": sessions,
				})
			}
		case <-m.stop:
			return
		}
	}
}
