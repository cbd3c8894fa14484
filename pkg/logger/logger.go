// Package logger provides the engine-wide structured logger. All storage
// components log through it so page allocations, splits, merges and flushes
// show up in one consistent stream.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the global log instance used by the storage engine.
var Logger = logrus.New()

var initOnce sync.Once

// Formatter renders entries as "[time] [LEVL] message key=value ...".
type Formatter struct {
	TimestampFormat string
}

// Format implements the logrus.Formatter interface.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	format := f.TimestampFormat
	if format == "" {
		format = "15:04:05 2006/01/02"
	}
	timestamp := entry.Time.Format(format)

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s", timestamp, level, entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Data[k])
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Init configures the global logger. level is a logrus level name ("debug",
// "info", "warn", "error"); unknown names fall back to info. Passing a nil
// writer keeps stderr.
func Init(level string, out io.Writer) {
	initOnce.Do(func() {
		Logger.SetFormatter(&Formatter{})
	})

	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	Logger.SetLevel(lv)

	if out != nil {
		Logger.SetOutput(out)
	} else {
		Logger.SetOutput(os.Stderr)
	}
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) {
	Logger.Debugf(format, args...)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	Logger.Infof(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	Logger.Warnf(format, args...)
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	Logger.Errorf(format, args...)
}
