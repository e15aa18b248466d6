package services

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/version"
)

// AgentStatusSource is what the system surface needs from the agent pool.
type AgentStatusSource interface {
	Instances() []*models.Instance
	Healthy(instanceID string) bool
}

// PendingCounter reports delivery-queue depth.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// SystemResources is the process resource snapshot.
type SystemResources struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryRSSBytes  uint64  `json:"memory_rss_bytes"`
	Goroutines      int     `json:"goroutines"`
	DBSizeBytes     int64   `json:"db_size_bytes"`
	PendingMessages int     `json:"pending_messages"`
	UptimeS         int64   `json:"uptime_s"`
}

// InstanceHealth is one instance's health line in the system report.
type InstanceHealth struct {
	InstanceID string                `json:"instance_id"`
	Status     models.InstanceStatus `json:"status"`
	Healthy    bool                  `json:"healthy"`
}

// SystemHealth is the aggregated service health report.
type SystemHealth struct {
	Status    string           `json:"status"` // "ok" or "degraded"
	Version   string           `json:"version"`
	UptimeS   int64            `json:"uptime_s"`
	Instances []InstanceHealth `json:"instances"`
	Warnings  int              `json:"warnings"`
}

// SystemService aggregates process resources, instance health, and
// warnings for the management surface.
type SystemService struct {
	startedAt time.Time
	proc      *process.Process
	pool      AgentStatusSource
	pending   PendingCounter
	dbPath    string
	warnings  *WarningsService
}

// NewSystemService creates a SystemService. pool, pending, and warnings may
// be nil; dbPath may be empty (in-memory database).
func NewSystemService(pool AgentStatusSource, pending PendingCounter, dbPath string, warnings *WarningsService) *SystemService {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &SystemService{
		startedAt: time.Now(),
		proc:      proc,
		pool:      pool,
		pending:   pending,
		dbPath:    dbPath,
		warnings:  warnings,
	}
}

// Resources returns the current process resource snapshot. Individual probe
// failures zero the field rather than failing the whole report.
func (s *SystemService) Resources(ctx context.Context) (*SystemResources, error) {
	r := &SystemResources{
		Goroutines: runtime.NumGoroutine(),
		UptimeS:    int64(time.Since(s.startedAt).Seconds()),
	}

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
			r.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			r.MemoryRSSBytes = mem.RSS
		}
	}
	if s.dbPath != "" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			r.DBSizeBytes = fi.Size()
		}
	}
	if s.pending != nil {
		if n, err := s.pending.CountPending(ctx); err == nil {
			r.PendingMessages = n
		}
	}
	return r, nil
}

// Health returns the aggregated health report. Status is degraded when any
// enabled instance is unhealthy.
func (s *SystemService) Health(_ context.Context) (*SystemHealth, error) {
	h := &SystemHealth{
		Status:  "ok",
		Version: version.Full(),
		UptimeS: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.warnings != nil {
		h.Warnings = len(s.warnings.GetWarnings())
	}
	if s.pool == nil {
		return h, nil
	}

	for _, inst := range s.pool.Instances() {
		healthy := s.pool.Healthy(inst.InstanceID)
		h.Instances = append(h.Instances, InstanceHealth{
			InstanceID: inst.InstanceID,
			Status:     inst.Status,
			Healthy:    healthy,
		})
		if inst.Enabled && !healthy {
			h.Status = "degraded"
		}
	}
	return h, nil
}
