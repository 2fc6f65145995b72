// Package api exposes the reconciliation engine over HTTP with gin.
package api

import (
	"fmt"
	"net/http"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/extraction"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/statements"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/internal/transactions"
	"reconciliation-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Config holds HTTP layer options
type Config struct {
	Mode           string `mapstructure:"mode"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	AllowOrigin    string `mapstructure:"allow_origin"`
}

// DefaultConfig returns the HTTP defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           gin.ReleaseMode,
		MaxUploadBytes: 10 << 20,
		AllowOrigin:    "*",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Mode {
	case gin.ReleaseMode, gin.DebugMode, gin.TestMode:
	default:
		return fmt.Errorf("invalid server mode: %s", c.Mode)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

// Dependencies are the services the handlers call
type Dependencies struct {
	Store        store.Store
	Reconciler   *reconciler.Service
	Ledger       *ledger.Ledger
	Statements   *statements.Service
	Transactions *transactions.Service
	Recorder     *audit.Recorder
	// Extractor is optional; without it /upload answers 503.
	Extractor extraction.Extractor
	LineItems *parsers.LineItemParser
	Logger    logger.Logger
}

// Handler holds the dependencies of every route
type Handler struct {
	deps   Dependencies
	config *Config
	logger logger.Logger
}

// NewRouter builds the gin engine with every route under /api/v1
func NewRouter(deps Dependencies, config *Config) (*gin.Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Reconciler == nil || deps.Ledger == nil ||
		deps.Statements == nil || deps.Transactions == nil || deps.Recorder == nil {
		return nil, fmt.Errorf("api: missing service dependency")
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if deps.LineItems == nil {
		p, err := parsers.NewLineItemParser(nil, nil)
		if err != nil {
			return nil, err
		}
		deps.LineItems = p
	}

	gin.SetMode(config.Mode)
	r := gin.New()

	h := &Handler{deps: deps, config: config, logger: log.WithComponent("api")}

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(LoggerMiddleware(h.logger))
	r.Use(CORSMiddleware(config.AllowOrigin))

	api := r.Group("/api/v1")
	{
		reconcile := api.Group("/reconcile")
		{
			reconcile.POST("/:statement_id/auto-match", h.AutoMatch)
			reconcile.POST("/manual-match", h.ManualMatch)
			reconcile.DELETE("/match/:bank_item_id", h.Unmatch)
			reconcile.GET("/:statement_id/status", h.Status)
			reconcile.GET("/:statement_id/export", h.Export)
		}

		st := api.Group("/statements")
		{
			st.POST("", h.IngestStatement)
			st.GET("", h.ListStatements)
			st.POST("/batch-delete", h.BatchDeleteStatements)
			st.GET("/:statement_id", h.GetStatement)
			st.GET("/:statement_id/items", h.ListItems)
			st.DELETE("/:statement_id", h.DeleteStatement)
			st.POST("/:statement_id/import", h.Import)
		}

		tx := api.Group("/transactions")
		{
			tx.GET("", h.ListTransactions)
			tx.POST("", h.CreateTransaction)
			tx.GET("/summary", h.Summary)
			tx.POST("/batch-confirm", h.BatchConfirm)
			tx.PATCH("/batch-category", h.BatchCategory)
			tx.GET("/:id", h.GetTransaction)
			tx.PUT("/:id", h.UpdateTransaction)
			tx.DELETE("/:id", h.DeleteTransaction)
		}

		api.POST("/upload", h.Upload)
		api.GET("/audit-log", h.QueryAudit)
		api.POST("/audit-log", h.AppendAudit)
		api.GET("/health", h.Health)
	}

	r.GET("/health", h.Health)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorBody{Code: "route_not_found", Kind: "not_found", Message: "no route for " + c.Request.URL.Path})
	})

	return r, nil
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
