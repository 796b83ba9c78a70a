package serverutil_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/serverutil"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduleRequest struct {
	Crontab string `json:"crontab" validate:"required"`
}

func TestValidationHandler(t *testing.T) {
	var got scheduleRequest
	h := serverutil.NewValidationHandler[scheduleRequest](http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = serverutil.Request[scheduleRequest](r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"crontab":"@daily"}`, http.StatusNoContent},
		{"missing field", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
	assert.Equal(t, "@daily", got.Crontab)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	serverutil.WriteError(rec, http.StatusNotFound, assert.AnError)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, assert.AnError.Error(), body["error"])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serverutil.Serve(ctx, ln, http.NotFoundHandler(), config.ServerConfig{ShutdownTimeout: time.Second}, lg.Discard)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
