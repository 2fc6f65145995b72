package cmd

import (
	"context"
	"time"

	"reconciliation-engine/cmd/reconciler/config"
	"reconciliation-engine/internal/api"
	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/extraction"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/locking"
	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/statements"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/internal/transactions"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// app holds the wired services of one process
type app struct {
	config *config.AppConfig
	logger logger.Logger

	store        store.Store
	recorder     *audit.Recorder
	ledger       *ledger.Ledger
	reconciler   *reconciler.Service
	statements   *statements.Service
	transactions *transactions.Service
	extractor    extraction.Extractor
	lineItems    *parsers.LineItemParser

	closers []func() error
}

// newApp opens the store and connects the optional Redis and Kafka backends.
// Close releases whatever was opened, also after a failed start.
func newApp(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*app, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	a := &app{config: cfg, logger: log.WithComponent("bootstrap")}
	started := false
	defer func() {
		if !started {
			_ = a.Close()
		}
	}()

	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	var publishers []audit.Publisher
	if cfg.Kafka.Enabled {
		producer, err := audit.NewSaramaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, errors.ServiceUnavailable("kafka", err)
		}
		publisher := audit.NewKafkaPublisher(producer, cfg.Kafka.AuditTopic)
		a.closers = append(a.closers, publisher.Close)
		publishers = append(publishers, publisher)
	}
	a.recorder = audit.NewRecorder(s, log, publishers...)
	a.ledger = ledger.New(s, locker, a.recorder, log)

	matching, err := cfg.MatchingConfig()
	if err != nil {
		return nil, err
	}
	engine, err := matcher.NewEngine(matching, log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", cfg.Matching.Profile, err)
	}

	rules, err := loadClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	reconcilerConfig := cfg.Reconciler
	a.reconciler, err = reconciler.NewService(reconciler.Dependencies{
		Store:      s,
		Ledger:     a.ledger,
		Engine:     engine,
		Classifier: rules,
		Recorder:   a.recorder,
		Logger:     log,
	}, &reconcilerConfig)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", "", err)
	}
	a.statements = statements.NewService(s, a.ledger, rules, a.recorder, log)
	a.transactions = transactions.NewService(s, a.recorder, log)

	client, err := extraction.NewClient(cfg.Extraction, log)
	if err != nil {
		return nil, err
	}
	a.extractor = client

	a.lineItems, err = parsers.NewLineItemParser(nil, parsers.StatementAliases)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logger.Fields{
		"driver": cfg.Database.Driver,
		"redis":  cfg.Redis.Enabled,
		"kafka":  cfg.Kafka.Enabled,
	}).Debug("Services ready")
	started = true
	return a, nil
}

// newLocker returns the Redis locker when enabled, else the in-process one
func (a *app) newLocker(ctx context.Context) (locking.Locker, error) {
	cfg := a.config
	if !cfg.Redis.Enabled {
		return locking.NewMemoryLocker(cfg.Locking), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.ServiceUnavailable("redis "+cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	return locking.NewRedisLocker(client, cfg.Locking), nil
}

func loadClassifier(cfg config.ClassifierConfig) (*classifier.KeywordClassifier, error) {
	if cfg.RulesFile == "" {
		return classifier.LoadEmbedded()
	}
	rules, err := classifier.LoadFromFile(cfg.RulesFile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "classifier.rules_file", cfg.RulesFile, err)
	}
	return rules, nil
}

// apiDependencies hands the services to the HTTP layer
func (a *app) apiDependencies() api.Dependencies {
	return api.Dependencies{
		Store:        a.store,
		Reconciler:   a.reconciler,
		Ledger:       a.ledger,
		Statements:   a.statements,
		Transactions: a.transactions,
		Recorder:     a.recorder,
		Extractor:    a.extractor,
		LineItems:    a.lineItems,
		Logger:       a.logger,
	}
}

// Close releases connections in reverse order of opening
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
