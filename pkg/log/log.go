// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options controls logger construction. Empty File disables the rotating file writer.
type Options struct {
	Level string
	File  string
	Env   string
}

// NewLogger builds the shared logger once; later calls return the same instance.
func NewLogger(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        false,
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})

		writers := []io.Writer{os.Stderr}
		if opts.Env != "test" && opts.File != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				LocalTime:  true,
				Compress:   true,
				MaxSize:    50,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}

		logger.SetOutput(io.MultiWriter(writers...))
		logger.SetReportCaller(true)
	})

	return logger
}

// Get returns the shared logger, building it with defaults if needed.
func Get() *logrus.Logger {
	return NewLogger(Options{Level: "info"})
}

func Debug(fields Fields, msg string) {
	Get().WithFields(orEmpty(fields)).Debug(msg)
}

func Info(fields Fields, msg string) {
	Get().WithFields(orEmpty(fields)).Info(msg)
}

func Warn(fields Fields, msg string) {
	Get().WithFields(orEmpty(fields)).Warn(msg)
}

func Error(fields Fields, msg string) {
	Get().WithFields(orEmpty(fields)).Error(msg)
}

func Fatal(fields Fields, msg string) {
	Get().WithFields(orEmpty(fields)).Fatal(msg)
}

func orEmpty(fields Fields) Fields {
	if fields == nil {
		return Fields{}
	}
	return fields
}
