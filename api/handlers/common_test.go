package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/internal/ctxkeys"
	"github.com/canvasflow/canvasflow/types"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusTeapot, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "world", body["hello"])
}

func TestWriteJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil)
	req = req.WithContext(ctxkeys.WithRequestID(req.Context(), "req-test-123"))

	WriteSuccess(rec, req, map[string]int{"total": 4})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-test-123", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "status from code",
			err:        types.NewError(types.ErrNoActiveRun, "no run is active"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NO_ACTIVE_RUN",
		},
		{
			name:       "explicit status wins",
			err:        types.NewError(types.ErrInvalidConfig, "history disabled").WithHTTPStatus(http.StatusServiceUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "INVALID_CONFIG",
		},
		{
			name:       "retryable flag survives",
			err:        types.NewError(types.ErrStreamDisconnected, "stream lost").WithRetryable(true),
			wantStatus: http.StatusBadGateway,
			wantCode:   "STREAM_DISCONNECTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)

			WriteError(rec, req, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.err.Retryable, resp.Error.Retryable)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrCyclicGraph, http.StatusBadRequest},
		{types.ErrDanglingEdge, http.StatusBadRequest},
		{types.ErrDuplicateNode, http.StatusBadRequest},
		{types.ErrEmptyGraph, http.StatusBadRequest},
		{types.ErrUnknownEvent, http.StatusBadRequest},
		{types.ErrAlreadyRunning, http.StatusConflict},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrRunCancelled, http.StatusConflict},
		{types.ErrNoActiveRun, http.StatusNotFound},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrStreamDisconnected, http.StatusBadGateway},
		{types.ErrStreamClosed, http.StatusBadGateway},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrInvalidConfig, http.StatusInternalServerError},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid body",
			body: `{"name":"render"}`,
		},
		{
			name:    "malformed JSON",
			body:    `{"name":`,
			wantErr: true,
		},
		{
			name:    "unknown field rejected",
			body:    `{"name":"render","extra":true}`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "render", dst.Name)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	rec := httptest.NewRecorder()
	huge := `{"name":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(huge))

	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"plain json", "application/json", true},
		{"json with charset", "application/json; charset=UTF-8", true},
		{"json with tight charset", "application/json;charset=utf-8", true},
		{"text", "text/plain", false},
		{"missing", "", false},
		{"garbage", ";;;", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			ok := ValidateContentType(rec, req, zap.NewNop())
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("records status and bytes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		rw.WriteHeader(http.StatusAccepted)
		n, err := rw.Write([]byte("queued"))
		require.NoError(t, err)

		assert.Equal(t, http.StatusAccepted, rw.StatusCode)
		assert.Equal(t, 6, n)
		assert.Equal(t, int64(6), rw.BytesWritten)
		assert.True(t, rw.Written)
	})

	t.Run("first status wins", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		rw.WriteHeader(http.StatusBadRequest)
		rw.WriteHeader(http.StatusOK)

		assert.Equal(t, http.StatusBadRequest, rw.StatusCode)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("write without explicit header defaults to 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		_, err := rw.Write([]byte("ok"))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, rw.StatusCode)
		assert.True(t, rw.Written)
	})
}
