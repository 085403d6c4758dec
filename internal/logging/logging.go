// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and output. Pretty selects the console writer
// for local runs; otherwise one JSON object is written per line.
func Init(appName, level string, pretty bool) {
	InitWithWriter(os.Stdout, appName, level, pretty)
}

func InitWithWriter(out io.Writer, appName, level string, pretty bool) {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
	}
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return file[strings.LastIndex(file, "/")+1:] + ":" + strconv.Itoa(line)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Str("app", appName).Logger()
	// log.Ctx on a context without a request logger falls back to the global one.
	zerolog.DefaultContextLogger = &log.Logger

	if !setLevel(level) {
		log.Warn().Str("level", level).Msg("unknown log level, defaulting to INFO")
	}
}

func setLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "DISABLED":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return false
	}
	return true
}
