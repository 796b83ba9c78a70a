package probe

import (
	"context"
	"fmt"
)

// TestResult is the outcome of a configuration test.
type TestResult struct {
	Status bool   `json:"status"`
	Errors string `json:"errors,omitempty"`
}

// Configuration is a family-specific view over a ConfigurationRecord.
type Configuration interface {
	Record() *ConfigurationRecord
	Test(ctx context.Context) TestResult
}

// Missing is the Configuration of a probe without configuration attached.
// Its test always fails.
type Missing struct {
	Probe string
}

func (m Missing) Record() *ConfigurationRecord { return nil }

func (m Missing) Test(context.Context) TestResult {
	return TestResult{Errors: fmt.Sprintf("no configuration attached to probe %s", m.Probe)}
}
