//go:build test

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizedMessage(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, "Resource not found"},
		{http.StatusUnauthorized, "Unauthorized"},
		{http.StatusBadRequest, "Bad request"},
		{http.StatusForbidden, "Forbidden"},
		{http.StatusTooManyRequests, "Too many requests"},
		{http.StatusInternalServerError, "Internal server error"},
		{http.StatusBadGateway, "Internal server error"},
		{http.StatusConflict, "An error occurred"},
		{http.StatusRequestEntityTooLarge, "An error occurred"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SanitizedMessage(tt.status), tt.status)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusForbidden)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":true,"message":"Forbidden","statusCode":403}`, rec.Body.String())
}
