// Package log is the process-wide structured logger of jaxci.
// Logs go to stderr (or a rotated file) so stdout stays reserved for test
// output and --output-format json.
package log

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 128
	logFileMaxBackups = 5
	logFileMaxAgeDays = 3
)

var Logger *jaxciLogger
var nopLogger = zap.NewNop().Sugar()

func init() {
	Logger = newJaxciLogger(newStderrLogger(zap.NewAtomicLevel()))
}

func encoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.EncodeTime = zapcore.ISO8601TimeEncoder
	return c
}

func newStderrLogger(level zap.AtomicLevel) *zap.SugaredLogger {
	c := zap.NewProductionConfig()
	c.Level = level
	c.EncoderConfig = encoderConfig()
	l, err := c.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// newFileLogger writes JSON logs to logFile. CI keeps the log dir as an
// artifact, so rotated files are compressed.
func newFileLogger(logFile string, level zap.AtomicLevel) *zap.SugaredLogger {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, level)
	return zap.New(core).Sugar()
}

// ParseLogLevel parses the --log-level flag; empty means info.
func ParseLogLevel(logLevel string) (zap.AtomicLevel, error) {
	if logLevel == "" {
		return zap.NewAtomicLevel(), nil
	}
	return zap.ParseAtomicLevel(logLevel)
}

// CreateLogger logs to logFile when set, else to stderr.
func CreateLogger(level zap.AtomicLevel, logFile string) *jaxciLogger {
	if logFile != "" {
		return newJaxciLogger(newFileLogger(logFile, level))
	}
	return newJaxciLogger(newStderrLogger(level))
}

type jaxciLogger struct {
	logger atomic.Pointer[zap.SugaredLogger]
}

func newJaxciLogger(logger *zap.SugaredLogger) *jaxciLogger {
	l := &jaxciLogger{}
	l.set(logger)
	return l
}

func (l *jaxciLogger) get() *zap.SugaredLogger {
	if l == nil {
		return nopLogger
	}
	if logger := l.logger.Load(); logger != nil {
		return logger
	}
	return nopLogger
}

func (l *jaxciLogger) set(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = nopLogger
	}
	l.logger.Store(logger)
}

// SetLogger swaps the global logger in place, so packages holding
// log.Logger pick up the new level and sink. nil silences logging.
func SetLogger(logger *jaxciLogger) {
	if logger == nil {
		Logger.set(nil)
		return
	}
	Logger.set(logger.get())
}

// Setup parses the level and installs the global logger in one call.
func Setup(logLevel string, logFile string) error {
	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return err
	}
	SetLogger(CreateLogger(level, logFile))
	return nil
}

// Errorw logs at warn level when the "error" value is a cancellation:
// an interrupted run is not a failure of jaxci itself.
func (l *jaxciLogger) Errorw(msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if keysAndValues[i] != "error" {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok && errors.Is(err, context.Canceled) {
			l.get().Warnw(msg, keysAndValues...)
			return
		}
	}
	l.get().Errorw(msg, keysAndValues...)
}

func (l *jaxciLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.get().Debugw(msg, keysAndValues...)
}

func (l *jaxciLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.get().Infow(msg, keysAndValues...)
}

func (l *jaxciLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.get().Warnw(msg, keysAndValues...)
}

func (l *jaxciLogger) Sync() error {
	return l.get().Sync()
}
