package serverutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/go-playground/validator/v10"
)

const defaultShutdownTimeout = 30 * time.Second

// RunServer serves handler on cfg.Addr until ctx is done, then shuts down
// gracefully within cfg.ShutdownTimeout.
func RunServer(ctx context.Context, handler http.Handler, cfg config.ServerConfig, logger lg.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return Serve(ctx, ln, handler, cfg, logger)
}

// Serve is RunServer on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, cfg config.ServerConfig, logger lg.Logger) error {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", lg.String("addr", ln.Addr().String()))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server stopping")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type requestKey struct{}

// ValidationHandler decodes and validates a JSON body of type T and passes
// it to next through the request context.
type ValidationHandler[T any] struct {
	next http.Handler
}

func NewValidationHandler[T any](next http.Handler) http.Handler {
	return &ValidationHandler[T]{next: next}
}

func (h *ValidationHandler[T]) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var request T
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		WriteError(rw, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if err := validate.Struct(request); err != nil {
		WriteError(rw, http.StatusBadRequest, err)
		return
	}
	ctx := context.WithValue(r.Context(), requestKey{}, request)
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

// Request returns the request decoded by ValidationHandler.
func Request[T any](r *http.Request) (T, bool) {
	v, ok := r.Context().Value(requestKey{}).(T)
	return v, ok
}

// WriteJSON writes v with the given status.
func WriteJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// WriteError writes {"error": err}.
func WriteError(rw http.ResponseWriter, status int, err error) {
	WriteJSON(rw, status, map[string]string{"error": err.Error()})
}
