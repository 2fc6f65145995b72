package logger

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ProgressTracker counts the items of a bulk operation (auto-match commit,
// import, batch confirm) and logs a line at most once per interval.
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int64
	interval  time.Duration
	started   time.Time

	done     atomic.Int64
	failed   atomic.Int64
	lastLogN atomic.Int64 // unix nanos of the last progress line
}

// ProgressConfig configures a tracker. Zero LogInterval means every 5s.
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Fields      Fields
	Logger      Logger
}

func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval <= 0 {
		config.LogInterval = 5 * time.Second
	}

	log := config.Logger.WithComponent("progress").WithField("operation", config.Operation)
	if len(config.Fields) > 0 {
		log = log.WithFields(config.Fields)
	}

	p := &ProgressTracker{
		logger:    log,
		operation: config.Operation,
		total:     config.Total,
		interval:  config.LogInterval,
		started:   time.Now(),
	}
	p.lastLogN.Store(p.started.UnixNano())
	p.logger.WithField("total", config.Total).Debug("Starting operation")
	return p
}

// Increment records one item that went through
func (p *ProgressTracker) Increment() {
	p.step(false)
}

// Fail records one item that was rejected
func (p *ProgressTracker) Fail() {
	p.step(true)
}

func (p *ProgressTracker) step(failed bool) {
	if failed {
		p.failed.Add(1)
	}
	p.done.Add(1)

	now := time.Now()
	last := p.lastLogN.Load()
	if now.Sub(time.Unix(0, last)) < p.interval {
		return
	}
	// one goroutine wins the slot
	if p.lastLogN.CompareAndSwap(last, now.UnixNano()) {
		p.logger.WithFields(p.Stats().fields()).Info("Progress update")
	}
}

// Complete logs and returns the final counts
func (p *ProgressTracker) Complete() ProgressStats {
	stats := p.Stats()
	p.logger.WithFields(stats.fields()).Info("Operation completed")
	return stats
}

// CompleteWithError logs the counts reached before err stopped the operation
func (p *ProgressTracker) CompleteWithError(err error) ProgressStats {
	stats := p.Stats()
	p.logger.WithError(err).WithFields(stats.fields()).Warn("Operation stopped early")
	return stats
}

// Stats snapshots the counters
func (p *ProgressTracker) Stats() ProgressStats {
	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Done:      p.done.Load(),
		Failed:    p.failed.Load(),
		Elapsed:   time.Since(p.started),
	}
}

// ProgressStats is a snapshot of a tracker
type ProgressStats struct {
	Operation string        `json:"operation"`
	Total     int64         `json:"total"`
	Done      int64         `json:"done"`
	Failed    int64         `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Percent is Done over Total; 0 when the total is unknown
func (ps ProgressStats) Percent() float64 {
	if ps.Total <= 0 {
		return 0
	}
	return float64(ps.Done) / float64(ps.Total) * 100
}

func (ps ProgressStats) fields() Fields {
	return Fields{
		"done":    ps.Done,
		"total":   ps.Total,
		"failed":  ps.Failed,
		"percent": fmt.Sprintf("%.1f", ps.Percent()),
		"elapsed": ps.Elapsed.Round(time.Millisecond).String(),
	}
}

func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%), %d failed", ps.Operation, ps.Done, ps.Total, ps.Percent(), ps.Failed)
	}
	return fmt.Sprintf("%s: %d done, %d failed", ps.Operation, ps.Done, ps.Failed)
}
