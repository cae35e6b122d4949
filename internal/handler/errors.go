package handler

import (
	"errors"
	"net/http"
	"strconv"

	"estatecrm/internal/model"
	"estatecrm/pkg/lock"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateName),
		errors.Is(err, model.ErrDuplicateStageOrder),
		errors.Is(err, model.ErrStageInUse),
		errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, model.ErrCrossPipelineTransition),
		errors.Is(err, model.ErrNoOpTransition),
		errors.Is(err, model.ErrSkippedStage),
		errors.Is(err, model.ErrStageNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...}. Internal errors are logged and hidden.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+": failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	logger.Info(op+": rejected", zap.Int("status", status), zap.Error(err))
	body := gin.H{"error": err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, logger *zap.Logger, op, msg string, err error) {
	logger.Warn(op+": "+msg, zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// uuidParam parses a path parameter and writes 400 when it is not a UUID.
func uuidParam(c *gin.Context, logger *zap.Logger, op, name string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(c, logger, op, "invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// expectedRevision reads the optional If-Match header.
func expectedRevision(c *gin.Context) (*int64, error) {
	raw := c.GetHeader("If-Match")
	if raw == "" {
		return nil, nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func setETag(c *gin.Context, d *model.Deal) {
	c.Header("ETag", `"`+strconv.FormatInt(d.Revision, 10)+`"`)
}
