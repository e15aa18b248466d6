package agent

import (
	"context"
	"time"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/redact"
)

// healthLoop drives one instance's health checks. An instance is healthy iff
// it is initialized and either the last health check passed or the loop
// re-initialized it successfully.
func (p *Pool) healthLoop(ctx context.Context, e *entry) {
	defer close(e.done)

	// Establish the session once at startup; the first tick retries if the
	// agent was not up yet.
	if err := p.initialize(ctx, e); err != nil {
		p.setStatus(ctx, e, models.InstanceStatusError, redact.Error(err))
	} else {
		p.setStatus(ctx, e, models.InstanceStatusOnline, "")
	}

	ticker := time.NewTicker(e.config().HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth(ctx, e)
		}
	}
}

func (p *Pool) checkHealth(ctx context.Context, e *entry) {
	info, err := e.client.HealthCheck(ctx)
	if err == nil && info.WeChatConnected {
		e.healthy.Store(e.initializedNow())
		if e.healthy.Load() {
			p.setStatus(ctx, e, models.InstanceStatusOnline, "")
			return
		}
		// Health endpoint is up but the session is gone.
		err = NewError(KindNotInitialized, "agent session not initialized", nil)
	}
	if ctx.Err() != nil {
		return
	}

	cfg := e.config()
	if cfg.AutoReconnect != nil && *cfg.AutoReconnect {
		for attempt := 1; attempt <= cfg.MaxRetry; attempt++ {
			if ctx.Err() != nil {
				return
			}
			if initErr := p.initialize(ctx, e); initErr == nil {
				p.logger.Info("Agent recovered after re-initialize",
					"instance_id", e.instanceID(), "attempt", attempt)
				p.setStatus(ctx, e, models.InstanceStatusOnline, "")
				return
			}
		}
	}

	e.healthy.Store(false)
	p.setStatus(ctx, e, models.InstanceStatusError, redact.Error(err))
}

// setStatus persists the instance status and fires the hook on transitions.
func (p *Pool) setStatus(ctx context.Context, e *entry, status models.InstanceStatus, lastError string) {
	e.mu.Lock()
	changed := e.lastStatus != status
	e.lastStatus = status
	e.inst.Status = status
	e.inst.LastError = lastError
	id := e.inst.InstanceID
	e.mu.Unlock()

	var lastActive *time.Time
	if status == models.InstanceStatusOnline {
		now := time.Now()
		lastActive = &now
	}
	if err := p.source.UpdateStatus(ctx, id, status, lastError, lastActive); err != nil && ctx.Err() == nil {
		p.logger.Error("Failed to persist instance status",
			"instance_id", id, "status", status, "error", redact.Error(err))
	}

	if changed {
		if status == models.InstanceStatusError {
			p.logger.Warn("Agent instance unhealthy", "instance_id", id, "error", lastError)
		}
		if p.hook != nil {
			p.hook(id, status, lastError)
		}
	}
}

func (e *entry) initializedNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *entry) instanceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.InstanceID
}
