package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePinger bool

func (p fakePinger) IsConnected() bool { return bool(p) }

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		status int
	}{
		{"events disabled", nil, http.StatusOK},
		{"nats connected", fakePinger(true), http.StatusOK},
		{"nats down", fakePinger(false), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.pinger).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
