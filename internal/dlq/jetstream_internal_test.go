package dlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPage(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		have  int
		want  int
	}{
		{name: "unlimited first page", limit: 0, have: 0, want: listPageSize},
		{name: "unlimited keeps paging", limit: 0, have: 3 * listPageSize, want: listPageSize},
		{name: "negative is unlimited", limit: -1, have: 7, want: listPageSize},
		{name: "small limit", limit: 5, have: 0, want: 5},
		{name: "remainder", limit: 250, have: 200, want: 50},
		{name: "large limit capped", limit: 1000, have: 0, want: listPageSize},
		{name: "limit met", limit: 5, have: 5, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPage(tt.limit, tt.have))
		})
	}
}
