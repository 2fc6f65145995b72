package api

import (
	"bytes"
	"fmt"
	"net/http"

	"reconciliation-engine/internal/export"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AutoMatch runs one auto-match pass over a statement
// POST /api/v1/reconcile/:statement_id/auto-match
func (h *Handler) AutoMatch(c *gin.Context) {
	statementID, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.deps.Reconciler.AutoMatch(c.Request.Context(), statementID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ManualMatchRequest pairs a line item with a recorded transaction
type ManualMatchRequest struct {
	BankItemID    int64 `json:"bank_item_id" binding:"required,gt=0"`
	TransactionID int64 `json:"transaction_id" binding:"required,gt=0"`
}

// ManualMatch commits a pairing chosen by a reviewer
// POST /api/v1/reconcile/manual-match
func (h *Handler) ManualMatch(c *gin.Context) {
	var req ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}

	match, err := h.deps.Ledger.ManualMatch(c.Request.Context(), req.BankItemID, req.TransactionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "match": match})
}

// Unmatch removes the active match of a line item
// DELETE /api/v1/reconcile/match/:bank_item_id
func (h *Handler) Unmatch(c *gin.Context) {
	bankItemID, err := paramID(c, "bank_item_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.deps.Ledger.Unmatch(c.Request.Context(), bankItemID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Status returns the reconciliation counts of a statement
// GET /api/v1/reconcile/:statement_id/status
func (h *Handler) Status(c *gin.Context) {
	statementID, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	status, err := h.deps.Ledger.Status(c.Request.Context(), statementID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Export renders the reconciliation report of a statement
// GET /api/v1/reconcile/:statement_id/export?format=csv|json|console
func (h *Handler) Export(c *gin.Context) {
	statementID, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	format := export.OutputFormat(c.DefaultQuery("format", string(export.FormatJSON)))
	if !format.IsValid() {
		h.respondError(c, errors.ValidationError(errors.CodeInvalidValue, "format", string(format), nil).
			WithSuggestion("use csv, json or console"))
		return
	}

	report, err := export.Build(c.Request.Context(), h.deps.Store, statementID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	config := export.DefaultConfig()
	config.Format = format
	config.UseColors = false
	renderer, err := export.NewRenderer(config)
	if err != nil {
		h.respondError(c, errors.InternalError(errors.CodeUnexpectedError, "export", err))
		return
	}

	var buf bytes.Buffer
	if err := renderer.Render(report, &buf); err != nil {
		h.respondError(c, errors.InternalError(errors.CodeUnexpectedError, "export", err))
		return
	}

	if format == export.FormatCSV {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="reconciliation_%d.csv"`, statementID))
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// ImportRequest lists the line items to import with their edited fields
type ImportRequest struct {
	Items []reconciler.ImportItem `json:"items" binding:"required"`
}

// Import converts line items into recorded transactions
// POST /api/v1/statements/:statement_id/import
func (h *Handler) Import(c *gin.Context) {
	statementID, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	if len(req.Items) == 0 {
		h.respondError(c, errors.ValidationError(errors.CodeMissingField, "items", 0, nil))
		return
	}

	result, err := h.deps.Reconciler.Import(c.Request.Context(), statementID, req.Items)
	h.respondResult(c, http.StatusOK, result, err)
}
