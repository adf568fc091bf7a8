package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// saturationWarnAfter is the number of consecutive saturated checks before
// the monitor warns that stage waves are queueing behind the pool.
const saturationWarnAfter = 3

// HealthMonitor periodically samples the pool and reports worker states to
// the metrics collector.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	saturated int
}

// HealthStatus is one sample of the pool.
type HealthStatus struct {
	TotalWorkers   int       `json:"totalWorkers"`
	IdleWorkers    int       `json:"idleWorkers"`
	BusyWorkers    int       `json:"busyWorkers"`
	StoppedWorkers int       `json:"stoppedWorkers"`
	WaitingJobs    int       `json:"waitingJobs"`
	Saturated      bool      `json:"saturated"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a monitor for pool. A non-positive interval
// disables the periodic check; GetStatus still works.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling loop. It is a no-op when already running or
// when the interval is disabled.
func (h *HealthMonitor) Start() {
	if h.interval <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.loop()
}

// Stop ends the sampling loop.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

// sample records one status to metrics and logs sustained saturation.
func (h *HealthMonitor) sample() {
	status := h.GetStatus()

	if h.pool.metrics != nil {
		h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
	}

	if !status.Healthy {
		h.logger.Warn("worker pool has stopped workers",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	}

	h.mu.Lock()
	if status.Saturated {
		h.saturated++
	} else {
		h.saturated = 0
	}
	streak := h.saturated
	h.mu.Unlock()

	if streak == saturationWarnAfter {
		h.logger.Warn("stage waves are waiting for workers, consider raising WORKER_POOL_SIZE",
			zap.Int("total", status.TotalWorkers),
			zap.Int("waiting", status.WaitingJobs))
	}
}

// GetStatus samples the pool now.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{Timestamp: time.Now()}
	for _, s := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch s {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}
	status.WaitingJobs = h.pool.Waiting()
	status.Saturated = status.TotalWorkers > 0 &&
		status.BusyWorkers == status.TotalWorkers && status.WaitingJobs > 0
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	return status
}

// IsHealthy reports whether every worker is running.
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
