// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggers map[string]*logrus.Logger
	mu      sync.Mutex
)

func NewPrefixLogger(prefix string) *PrefixLogger {
	stringPrefix := fmt.Sprintf("%s:\t", prefix)

	formatter := &logrus.TextFormatter{}
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "15:04:05"
	formatter.DisableColors = strings.Contains(runtime.GOOS, "windows")
	return &PrefixLogger{
		formatter,
		[]byte(stringPrefix),
	}
}

type PrefixLogger struct {
	formatter logrus.Formatter
	prefix    []byte
}

func (f *PrefixLogger) Format(entry *logrus.Entry) ([]byte, error) {
	text, err := f.formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	return append(f.prefix, text...), nil
}

const (
	LOG_MAIN        = "MA"
	LOG_SYNC        = "SY"
	LOG_IMAP        = "IM"
	LOG_POP3        = "PO"
	LOG_EWS         = "EW"
	LOG_GRAPH       = "GR"
	LOG_TUNNEL      = "TU"
	LOG_PERSISTENCE = "PI"
)

var prefixes = []string{
	LOG_MAIN,
	LOG_SYNC,
	LOG_IMAP,
	LOG_POP3,
	LOG_EWS,
	LOG_GRAPH,
	LOG_TUNNEL,
	LOG_PERSISTENCE,
}

func getLevel(loglevel string) logrus.Level {
	switch strings.ToLower(loglevel) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "panic":
		return logrus.PanicLevel
	case "fatal":
		return logrus.FatalLevel
	}

	// Info is default
	return logrus.InfoLevel
}

func initLogger(prefix, loglevel string) {
	loggers[prefix] = logrus.New()
	loggers[prefix].Level = getLevel(loglevel)
	loggers[prefix].Formatter = NewPrefixLogger(prefix)
}

func InitLogging(loglevel string) {
	mu.Lock()
	defer mu.Unlock()

	loggers = make(map[string]*logrus.Logger)
	for _, prefix := range prefixes {
		initLogger(prefix, loglevel)
	}
}

func SetLogLevel(loglevel string) {
	mu.Lock()
	defer mu.Unlock()

	for _, v := range loggers {
		v.Level = getLevel(loglevel)
	}
}

// SetOutput redirects every subsystem logger, mostly useful to silence tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	for _, v := range loggers {
		v.Out = w
	}
}

// Logger returns the logger of a subsystem. Logging is initialised at info
// level on first use if InitLogging was not called before.
func Logger(logger string) *logrus.Logger {
	mu.Lock()
	if loggers == nil {
		loggers = make(map[string]*logrus.Logger)
		for _, prefix := range prefixes {
			initLogger(prefix, "info")
		}
	}
	l, ok := loggers[logger]
	mu.Unlock()

	if !ok {
		panic("Logger " + logger + " unknown")
	}

	return l
}
