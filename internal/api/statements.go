package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// IngestStatement stores a parsed statement. A JSON body is the statement
// contract; a multipart form carries a normalized CSV in "file" with the
// statement fields as form values.
// POST /api/v1/statements
func (h *Handler) IngestStatement(c *gin.Context) {
	var (
		parsed *parsers.ParsedStatement
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, err = h.parseStatementUpload(c)
	} else {
		var contract parsers.StatementContract
		if bindErr := c.ShouldBindJSON(&contract); bindErr != nil {
			h.respondError(c, bindError(bindErr))
			return
		}
		parsed, err = contract.ToParsed()
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	st, err := h.deps.Statements.Ingest(c.Request.Context(), parsed.Statement, parsed.Items)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{"statement": st}
	if parsed.Stats != nil {
		body["skipped"] = parsed.Stats.Skipped
		body["duplicates"] = parsed.Stats.Duplicates
		rowErrors := make([]string, 0, parsed.Stats.ErrorCount())
		for _, rowErr := range parsed.Stats.Errors {
			rowErrors = append(rowErrors, rowErr.Error())
		}
		body["row_errors"] = rowErrors
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) parseStatementUpload(c *gin.Context) (*parsers.ParsedStatement, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "file", "", err)
	}
	file, err := header.Open()
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "file", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "file", header.Filename, err)
	}

	meta := parsers.StatementMeta{
		BankName:     c.PostForm("bank_name"),
		AccountLast4: c.PostForm("account_last4"),
		Currency:     c.PostForm("currency"),
		FileName:     header.Filename,
		FileType:     strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), "."),
	}
	if strings.TrimSpace(meta.BankName) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "bank_name", "", nil)
	}
	return h.deps.LineItems.Parse(c.Request.Context(), data, meta)
}

// ListStatements returns every statement with its derived counts
// GET /api/v1/statements
func (h *Handler) ListStatements(c *gin.Context) {
	list, err := h.deps.Statements.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statements": list})
}

// GetStatement returns one statement
// GET /api/v1/statements/:statement_id
func (h *Handler) GetStatement(c *gin.Context) {
	id, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	st, err := h.deps.Statements.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListItems returns the line items of a statement ordered by date, then id
// GET /api/v1/statements/:statement_id/items
func (h *Handler) ListItems(c *gin.Context) {
	id, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.deps.Statements.Get(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	items, err := h.deps.Statements.Items(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statement_id": id, "items": items})
}

// DeleteStatement removes a statement, its items and their matches
// DELETE /api/v1/statements/:statement_id
func (h *Handler) DeleteStatement(c *gin.Context) {
	id, err := paramID(c, "statement_id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.deps.Statements.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// IDsRequest lists entity ids for a batch operation
type IDsRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// BatchDeleteStatements deletes each listed statement independently
// POST /api/v1/statements/batch-delete
func (h *Handler) BatchDeleteStatements(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	result, err := h.deps.Statements.BatchDelete(c.Request.Context(), req.IDs)
	h.respondResult(c, http.StatusOK, result, err)
}
