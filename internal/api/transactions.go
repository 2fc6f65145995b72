package api

import (
	"net/http"
	"strings"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/internal/transactions"
	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ListTransactions lists recorded transactions
// GET /api/v1/transactions?type=&category=&from=&to=&unmatched=&limit=&offset=
func (h *Handler) ListTransactions(c *gin.Context) {
	filter, err := transactionFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	list, err := h.deps.Transactions.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func transactionFilter(c *gin.Context) (store.TransactionFilter, error) {
	var filter store.TransactionFilter

	if raw := c.Query("type"); raw != "" {
		t, err := models.ParseTransactionType(raw)
		if err != nil {
			return filter, errors.ValidationError(errors.CodeInvalidValue, "type", raw, err)
		}
		filter.Type = t
	}
	filter.Category = strings.TrimSpace(c.Query("category"))

	var err error
	if filter.From, err = queryDate(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryDate(c, "to"); err != nil {
		return filter, err
	}
	filter.UnmatchedOnly = c.Query("unmatched") == "true"

	if v, ok, err := queryInt(c, "limit"); err != nil {
		return filter, err
	} else if ok {
		filter.Limit = v
	}
	if v, ok, err := queryInt(c, "offset"); err != nil {
		return filter, err
	} else if ok {
		filter.Offset = v
	}
	return filter, nil
}

func queryDate(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseDate(raw)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, name, raw, err)
	}
	return &t, nil
}

// CreateTransaction records a transaction entered by hand
// POST /api/v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var in transactions.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	tx, err := h.deps.Transactions.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// GetTransaction returns one transaction
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	tx, err := h.deps.Transactions.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// UpdateTransaction applies a partial update
// PUT /api/v1/transactions/:id
func (h *Handler) UpdateTransaction(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var patch transactions.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	tx, err := h.deps.Transactions.Update(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DeleteTransaction deletes an unmatched transaction
// DELETE /api/v1/transactions/:id
func (h *Handler) DeleteTransaction(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.deps.Transactions.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BatchCategoryRequest sets one category on many transactions
type BatchCategoryRequest struct {
	IDs      []int64 `json:"ids" binding:"required,min=1"`
	Category string  `json:"category" binding:"required"`
}

// BatchCategory updates the category of many transactions
// PATCH /api/v1/transactions/batch-category
func (h *Handler) BatchCategory(c *gin.Context) {
	var req BatchCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	result, err := h.deps.Transactions.BatchUpdateCategory(c.Request.Context(), req.IDs, req.Category)
	h.respondResult(c, http.StatusOK, result, err)
}

// BatchConfirmRequest lists reviewed receipts to record
type BatchConfirmRequest struct {
	Transactions []transactions.Input `json:"transactions" binding:"required,min=1"`
}

// BatchConfirm records the receipts a reviewer accepted
// POST /api/v1/transactions/batch-confirm
func (h *Handler) BatchConfirm(c *gin.Context) {
	var req BatchConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	result, err := h.deps.Transactions.BatchConfirm(c.Request.Context(), req.Transactions)
	h.respondResult(c, http.StatusCreated, result, err)
}

// Summary totals income and expenses
// GET /api/v1/transactions/summary?from=&to=
func (h *Handler) Summary(c *gin.Context) {
	from, err := queryDate(c, "from")
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := queryDate(c, "to")
	if err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.deps.Transactions.Summarize(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
