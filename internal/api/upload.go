package api

import (
	"mime"
	"net/http"

	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Upload forwards a receipt or invoice to the extraction service and returns
// the candidate transactions for review. Nothing is recorded until the
// reviewer calls batch-confirm.
// POST /api/v1/upload
func (h *Handler) Upload(c *gin.Context) {
	if h.deps.Extractor == nil {
		h.respondError(c, errors.ServiceUnavailable("extraction", nil).
			WithSuggestion("configure extraction.base_url to enable uploads"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, errors.ValidationError(errors.CodeMissingField, "file", "", err).
			WithSuggestion("send the document as multipart form field \"file\""))
		return
	}
	if header.Size > h.config.MaxUploadBytes {
		h.respondError(c, errors.ValidationError(errors.CodeOutOfRange, "file", header.Size, nil))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	file, err := header.Open()
	if err != nil {
		h.respondError(c, errors.ValidationError(errors.CodeInvalidValue, "file", header.Filename, err))
		return
	}
	defer file.Close()

	result, err := h.deps.Extractor.Extract(c.Request.Context(), header.Filename, contentType, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
