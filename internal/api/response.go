package api

import (
	"strconv"

	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Code       string         `json:"code"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    errors.Context `json:"context,omitempty"`
}

func newErrorBody(err error) ErrorBody {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return ErrorBody{
			Code:       string(reconcilerErr.Code),
			Kind:       string(reconcilerErr.Kind),
			Message:    reconcilerErr.Message,
			Suggestion: reconcilerErr.Suggestion,
			Context:    reconcilerErr.Context,
		}
	}
	kind := errors.KindOf(err)
	body := ErrorBody{Code: string(errors.CodeUnexpectedError), Kind: string(kind), Message: "internal server error"}
	if kind == errors.KindCancelled {
		body.Code = string(errors.CodeOperationAborted)
		body.Message = "request cancelled"
	}
	return body
}

// respondError writes err with the status of its kind
func (h *Handler) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	entry := h.logger.WithError(err).WithField("request_id", c.GetString(requestIDKey))
	if status >= 500 {
		entry.Error("Request error")
	} else {
		entry.Debug("Request error")
	}
	c.AbortWithStatusJSON(status, newErrorBody(err))
}

// respondResult writes a result that may come with a partial batch failure.
// A BatchError answers 207 with the full result, which carries the outcomes.
func (h *Handler) respondResult(c *gin.Context, status int, result interface{}, err error) {
	if err != nil {
		if _, ok := errors.AsBatchError(err); ok && result != nil {
			c.JSON(errors.HTTPStatus(err), result)
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(status, result)
}

func bindError(err error) error {
	return errors.ValidationError(errors.CodeInvalidValue, "body", "", err).
		WithSuggestion("send a JSON body matching the endpoint's request shape")
}

// paramID parses a positive int64 path parameter
func paramID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError(errors.CodeInvalidValue, name, raw, err).
			WithSuggestion("use a positive integer id")
	}
	return id, nil
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, name string) (int, bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, errors.ValidationError(errors.CodeInvalidValue, name, raw, err)
	}
	return v, true, nil
}
