package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResponse(t *testing.T) {
	t.Run("writes JSON with status code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := WriteResponse(rec, http.StatusCreated, map[string]string{"hello": "world"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "world", body["hello"])
	})
}

func TestWriteError(t *testing.T) {
	t.Run("writes error and message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, http.StatusBadRequest, "bad_request", "missing field")

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "bad_request", body.Error)
		assert.Equal(t, "missing field", body.Message)
	})

	t.Run("helpers use expected status codes", func(t *testing.T) {
		tests := []struct {
			name   string
			write  func(http.ResponseWriter, string)
			status int
		}{
			{"unauthorized", WriteUnauthorized, http.StatusUnauthorized},
			{"bad request", WriteBadRequest, http.StatusBadRequest},
			{"not found", WriteNotFound, http.StatusNotFound},
			{"bad gateway", WriteBadGateway, http.StatusBadGateway},
			{"service unavailable", WriteServiceUnavailable, http.StatusServiceUnavailable},
			{"internal server error", WriteInternalServerError, http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := httptest.NewRecorder()
				tt.write(rec, "boom")
				assert.Equal(t, tt.status, rec.Code)
			})
		}
	})
}
