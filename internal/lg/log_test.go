package lg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigFromFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		debug  bool
		format string
	}{
		{"defaults", nil, false, "json"},
		{"debug", []string{"-debug"}, true, "json"},
		{"separate value", []string{"-config", "conf.yaml", "-log-format", "console"}, false, "console"},
		{"inline value", []string{"--log-format=console", "-debug", "-env", ".env"}, true, "console"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfigFromFlags("probemanager", tt.args)
			assert.Equal(t, "probemanager", cfg.ServiceName)
			assert.Equal(t, tt.debug, cfg.Debug)
			assert.Equal(t, tt.format, cfg.Format)
		})
	}
}

func TestFromContext(t *testing.T) {
	assert.IsType(t, defaultLogger{}, FromContext(context.Background()))

	l := New(&Config{ServiceName: "test", Format: "console"})
	ctx := Attach(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestFlatten(t *testing.T) {
	assert.Empty(t, flatten())
	out := flatten(String("probe", "X"), Int("code", 2))
	assert.Contains(t, out, "X")
	assert.Contains(t, out, "2")
}
