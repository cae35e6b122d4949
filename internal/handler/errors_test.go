package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"estatecrm/internal/model"
	"estatecrm/pkg/lock"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "title", Message: "empty"}, http.StatusBadRequest},
		{model.ErrInvalidArgument, http.StatusBadRequest},
		{model.NotFound("deal", uuid.New()), http.StatusNotFound},
		{fmt.Errorf("create: %w", model.ErrDuplicateName), http.StatusConflict},
		{model.ErrDuplicateStageOrder, http.StatusConflict},
		{model.ErrStageInUse, http.StatusConflict},
		{model.ErrConcurrentModification, http.StatusConflict},
		{model.ErrCrossPipelineTransition, http.StatusUnprocessableEntity},
		{model.ErrNoOpTransition, http.StatusUnprocessableEntity},
		{model.ErrSkippedStage, http.StatusUnprocessableEntity},
		{model.ErrStageNotFound, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: pipeline:x", lock.ErrNotAcquired), http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestExpectedRevision(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		header  string
		want    *int64
		wantErr bool
	}{
		{"", nil, false},
		{`"4"`, ptr(int64(4)), false},
		{"7", ptr(int64(7)), false},
		{`W/"4"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("If-Match", tt.header)
			}
			got, err := expectedRevision(c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionalUUID(t *testing.T) {
	got, err := optionalUUID(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	empty := ""
	got, err = optionalUUID(&empty)
	require.NoError(t, err)
	assert.Nil(t, got)

	bad := "x"
	_, err = optionalUUID(&bad)
	assert.Error(t, err)

	raw := uuid.NewString()
	got, err = optionalUUID(&raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got.String())
}

func ptr[T any](v T) *T { return &v }
