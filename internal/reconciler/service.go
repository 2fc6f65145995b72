// Package reconciler runs the statement-level reconciliation workflows: the
// auto-match pass that commits the matching engine's plan, and the import
// resolver that turns selected line items into recorded transactions.
//
// Both workflows run inside a ledger session for the statement, process items
// one at a time and check for cancellation between items. Completed items stay
// committed when a run stops early.
package reconciler

import (
	"fmt"
	"time"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/logger"
)

// Config holds workflow options for the reconciliation service
type Config struct {
	// AutoCommit creates matches for plan decisions at or above the high
	// threshold. When false those decisions are stored as discrepancies for
	// manual review instead.
	AutoCommit bool `mapstructure:"auto_commit"`

	// ProgressInterval is how often bulk runs log progress
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// DefaultConfig commits confident matches automatically
func DefaultConfig() *Config {
	return &Config{
		AutoCommit:       true,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative: %s", c.ProgressInterval)
	}
	return nil
}

// Service coordinates the matching engine, the ledger and the stores
type Service struct {
	store      store.Store
	ledger     *ledger.Ledger
	engine     *matcher.Engine
	duplicates *matcher.DuplicateDetector
	classifier classifier.Classifier
	recorder   *audit.Recorder
	config     *Config
	logger     logger.Logger
}

// Dependencies groups the collaborators of a Service
type Dependencies struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Engine     *matcher.Engine
	Classifier classifier.Classifier
	Recorder   *audit.Recorder
	Logger     logger.Logger
}

// NewService creates a reconciliation service
func NewService(deps Dependencies, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if deps.Store == nil || deps.Ledger == nil || deps.Engine == nil || deps.Recorder == nil {
		return nil, fmt.Errorf("store, ledger, engine and recorder are required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Service{
		store:      deps.Store,
		ledger:     deps.Ledger,
		engine:     deps.Engine,
		duplicates: matcher.NewDuplicateDetector(deps.Engine.Config()),
		classifier: deps.Classifier,
		recorder:   deps.Recorder,
		config:     config,
		logger:     log.WithComponent("reconciler"),
	}, nil
}
