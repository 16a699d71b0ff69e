package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(EnvelopesTotal.WithLabelValues("file", "processed"))
	EnvelopesTotal.WithLabelValues("file", "processed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(EnvelopesTotal.WithLabelValues("file", "processed")))

	before = testutil.ToFloat64(ChangesTotal.WithLabelValues("status", "orphaned"))
	ChangesTotal.WithLabelValues("status", "orphaned").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ChangesTotal.WithLabelValues("status", "orphaned")))
}

func TestCollectorsLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(StoreErrors)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}
