package handler

import (
	"errors"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"chainpulse/internal/health"
	"chainpulse/pkg/logger"
)

// ErrInvalidConfig marks a reload rejected because the new configuration did
// not parse or validate; the running system is left untouched.
var ErrInvalidConfig = errors.New("invalid configuration")

// ReloadSummary reports what a successful reload changed.
type ReloadSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Replaced int `json:"replaced"`
	Total    int `json:"total"`
}

// ReloadFunc re-reads the configuration and applies it. Implementations wrap
// config errors with ErrInvalidConfig.
type ReloadFunc func() (ReloadSummary, error)

// HealthHandler serves the probe routes on the health listener.
type HealthHandler struct {
	state          *health.State
	staleThreshold time.Duration
	reload         ReloadFunc
	reloadInFlight atomic.Bool
	log            *logger.Logger
}

func NewHealthHandler(state *health.State, staleThreshold time.Duration, reload ReloadFunc, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		state:          state,
		staleThreshold: staleThreshold,
		reload:         reload,
		log:            log,
	}
}

// Register mounts the health routes on the router.
func (h *HealthHandler) Register(router *gin.Engine) {
	router.GET("/health", h.handleHealth)
	router.GET("/health/livez", h.handleLivez)
	router.GET("/health/readyz", h.handleReadyz)
	router.GET("/health/details", h.handleDetails)
	router.POST("/health/reload", h.handleReload)
}

func (h *HealthHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) handleLivez(c *gin.Context) {
	if !h.state.Alive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_alive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) handleReadyz(c *gin.Context) {
	ready := h.state.Ready(h.staleThreshold)

	status := http.StatusOK
	verdict := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		verdict = "not_ready"
	}

	c.JSON(status, gin.H{
		"status": verdict,
		"chains": h.chainEntries(),
	})
}

func (h *HealthHandler) handleDetails(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": h.chainEntries()})
}

type chainEntry struct {
	Chain string `json:"chain"`
	health.ChainStatus
}

func (h *HealthHandler) chainEntries() []chainEntry {
	snapshot := h.state.Snapshot(h.staleThreshold)

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]chainEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, chainEntry{Chain: name, ChainStatus: snapshot[name]})
	}
	return entries
}

func (h *HealthHandler) handleReload(c *gin.Context) {
	if !h.reloadInFlight.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "reload already in flight"})
		return
	}
	defer h.reloadInFlight.Store(false)

	summary, err := h.reload()
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			h.log.Error("Reload rejected: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("Reload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.log.Info("Configuration reloaded: added=%d removed=%d replaced=%d total=%d",
		summary.Added, summary.Removed, summary.Replaced, summary.Total)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "summary": summary})
}
