package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency probed by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Manager struct {
	ready   atomic.Bool
	checks  map[string]Pinger
	timeout time.Duration
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{checks: map[string]Pinger{}, timeout: 2 * time.Second}
	m.ready.Store(initialReady)
	return m
}

// AddCheck registers a dependency. Not safe to call once serving.
func (m *Manager) AddCheck(name string, p Pinger) {
	if p == nil {
		return
	}
	m.checks[name] = p
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// Check returns the failing dependencies, keyed by name.
func (m *Manager) Check(ctx context.Context) map[string]string {
	failed := map[string]string{}
	for name, p := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := p.Ping(checkCtx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsReady() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		if failed := m.Check(c.Request.Context()); len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
