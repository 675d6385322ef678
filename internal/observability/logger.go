package observability

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/mcportal/internal/logging"
)

// InitLogger configures runtime logging and installs an app-tagged
// console logger on stdout as the zerolog default.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := logging.New(os.Stdout, logging.Resolve(logging.ProfileRuntime)).
		With().
		Str("app", app).
		Logger()
	log.Logger = logger
	return logger
}
