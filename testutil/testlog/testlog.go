package testlog

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/logging"
)

// Start configures test logging and records the running test's name.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := logging.For("test").With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("start")
	return logger
}
