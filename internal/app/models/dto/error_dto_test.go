package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yigit/chathub/internal/pkg/apperrors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
		wantMsg    string
	}{
		{
			name:       "chat not found",
			err:        apperrors.Wrap(apperrors.ErrResourceNotFound, apperrors.ErrChatNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   ErrorCodeResourceNotFound,
			wantMsg:    apperrors.ErrChatNotFound.Error(),
		},
		{
			name:       "not a participant",
			err:        apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant),
			wantStatus: http.StatusForbidden,
			wantCode:   ErrorCodeForbidden,
			wantMsg:    apperrors.ErrNotParticipant.Error(),
		},
		{
			name:       "empty message",
			err:        apperrors.Wrap(apperrors.ErrInvalidOperation, apperrors.ErrEmptyMessage),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   ErrorCodeInvalidOperation,
			wantMsg:    apperrors.ErrEmptyMessage.Error(),
		},
		{
			name:       "bad request",
			err:        apperrors.NewBadRequestError("Invalid pagination cursor"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeBadRequest,
			wantMsg:    "Invalid pagination cursor",
		},
		{
			name:       "conflict wrapped further",
			err:        fmt.Errorf("create chat: %w", apperrors.NewConflictError("Private chat already exists")),
			wantStatus: http.StatusConflict,
			wantCode:   ErrorCodeConflict,
			wantMsg:    "Private chat already exists",
		},
		{
			name:       "rate limited",
			err:        apperrors.NewCustomError(apperrors.ErrRateLimited, "Too many commands"),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   ErrorCodeRateLimited,
			wantMsg:    "Too many requests",
		},
		{
			name:       "expired token",
			err:        apperrors.ErrTokenExpired,
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeExpiredToken,
			wantMsg:    "Token expired",
		},
		{
			name:       "invalid token",
			err:        apperrors.ErrInvalidFormat,
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidToken,
			wantMsg:    "Invalid token",
		},
		{
			name:       "unknown error hides details",
			err:        errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrorCodeInternalServer,
			wantMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := MapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, detail.Code)
			assert.Equal(t, tt.wantMsg, detail.Message)
		})
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	assert.False(t, v.HasErrors())

	v.AddError("name", "name is required")
	assert.True(t, v.HasErrors())
	assert.Equal(t, ErrorCodeValidationFailed, v.Errors[0].Code)
	assert.Equal(t, "name", v.Errors[0].Field)
}
