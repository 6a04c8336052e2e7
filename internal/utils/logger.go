package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the global console logger. A nil writer means stderr.
func InitLogger(debug bool, w io.Writer) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if w == nil {
		w = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// DisableLogging silences the global logger; the library default until InitLogger runs.
func DisableLogging() {
	log.Logger = zerolog.Nop()
}

func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func GetDownloadLogger(component string, handle int) zerolog.Logger {
	return log.With().Str("component", component).Int("handle", handle).Logger()
}
