package families_test

import (
	"reflect"
	"testing"

	"github.com/andrej220/probemanager/internal/executor/executortest"
	"github.com/andrej220/probemanager/internal/families"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryKeyResolvesToDistinctFamily(t *testing.T) {
	reg := families.NewRegistry()
	pairs := [][2]string{{"Suricata", ""}, {"Bro", ""}, {"Ossec", ""}, {"Ossec", "OssecAgent"}}
	require.Len(t, reg.Keys(), len(pairs))

	seen := make(map[string]bool)
	for _, pr := range pairs {
		rec := probe.NewRecord()
		rec.Name, rec.Host, rec.Type, rec.Subtype = "p", "10.0.0.1", pr[0], pr[1]
		l, err := reg.Build(&rec, &executortest.Recorder{})
		require.NoError(t, err, pr)
		require.NotNil(t, l)

		id := reflect.TypeOf(l).String()
		if cfg := l.Record(); cfg.Subtype != "" {
			id += "/" + cfg.Subtype
		}
		assert.False(t, seen[id], "duplicate implementation for %v", pr)
		seen[id] = true
	}
}

func TestUnregisteredPair(t *testing.T) {
	reg := families.NewRegistry()
	_, err := reg.Resolve("Snort", "")
	assert.ErrorIs(t, err, probe.ErrUnknownProbeType)
	_, err = reg.Resolve("Suricata", "SuricataIPS")
	assert.ErrorIs(t, err, probe.ErrUnknownProbeType)
}

func TestRegisterAllTwicePanics(t *testing.T) {
	reg := families.NewRegistry()
	assert.Panics(t, func() { families.RegisterAll(reg) })
}
