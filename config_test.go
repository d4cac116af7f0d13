package topicfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"PT24H", 24 * time.Hour},
		{"P7D", 7 * 24 * time.Hour},
		{"P1DT12H", 36 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseTimeframe(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}

	for _, input := range []string{"", "soon", "-5h", "0h", "PT0S"} {
		_, err := ParseTimeframe(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestValidCategory(t *testing.T) {
	cfg := DefaultTunables()
	assert.True(t, cfg.ValidCategory("sports"))
	assert.True(t, cfg.ValidCategory(cfg.DefaultCategory))
	assert.False(t, cfg.ValidCategory("astrology"))
	assert.False(t, cfg.ValidCategory(""))
}
