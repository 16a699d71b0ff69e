package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name     string
		timeouts Timeouts
		derive   func(Timeouts, context.Context) (context.Context, context.CancelFunc)
		want     time.Duration
	}{
		{"query default", DefaultTimeouts(), Timeouts.QueryContext, DefaultQueryTimeout},
		{"write default", DefaultTimeouts(), Timeouts.WriteContext, DefaultWriteTimeout},
		{"bulk default", DefaultTimeouts(), Timeouts.BulkContext, DefaultBulkTimeout},
		{"zero falls back", Timeouts{}, Timeouts.WriteContext, DefaultWriteTimeout},
		{"custom", Timeouts{Query: time.Second}, Timeouts.QueryContext, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			ctx, cancel := tt.derive(tt.timeouts, context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, start.Add(tt.want), deadline, 100*time.Millisecond)
		})
	}
}
