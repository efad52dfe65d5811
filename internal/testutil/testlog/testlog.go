package testlog

import (
	"testing"

	"github.com/danmuck/flexpipe/internal/logging"
	"github.com/rs/zerolog"
)

// Start configures the test logging profile and returns a logger bound to t.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().
		Str("test", t.Name()).
		Logger()
	logger.Info().Msg("test start")
	return logger
}
