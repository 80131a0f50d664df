// Package log configures the loggers of every chat package from one
// verbosity setting.
package log

import (
	"io"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"

	chatapp "github.com/DanielGrotan/chat-app"
	"github.com/DanielGrotan/chat-app/chat"
	"github.com/DanielGrotan/chat-app/transport"
)

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

// Logger Global Logger
var Logger *golog.Logger

// Level returns the log level for the given number of -v flags.
func Level(numVerbose int) log.Level {
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}
	if numVerbose < 0 {
		numVerbose = 0
	}
	return logLevels[numVerbose]
}

// Init installs a logger writing to out into the host, room and transport
// packages.
func Init(out io.Writer, numVerbose int) *golog.Logger {
	Logger = golog.New(out, Level(numVerbose))
	chatapp.SetLogger(Logger)
	chat.SetLogger(Logger)
	transport.SetLogger(Logger)
	return Logger
}
