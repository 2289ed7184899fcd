package log

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Logger interface {
	SetOutput(output io.Writer)
	SetLevel(level string)
	WithStack(err interface{})
	Fatalf(format string, args ...interface{})
	Fatal(args ...interface{})
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Info(args ...interface{})
	Debugf(format string, args ...interface{})
}

var mclog Logger

// 默认日志在包初始化时创建，各协程只读
func init() {
	mclog = newDefaultLogger(os.Stderr)
}

func getLogger() Logger {
	return mclog
}

// SetLogger replace the logger before any goroutine logs, nil restores the default
func SetLogger(logger Logger) {
	if logger == nil {
		logger = newDefaultLogger(os.Stderr)
	}
	mclog = logger
}

func SetLoggerOutput(output io.Writer) {
	getLogger().SetOutput(output)
}

func SetLevel(level string) {
	getLogger().SetLevel(level)
}

func WithStack(err interface{}) { getLogger().WithStack(err) }

func Fatalf(format string, args ...interface{}) { getLogger().Fatalf(format, args...) }
func Fatal(args ...interface{})                 { getLogger().Fatal(args...) }
func Errorf(format string, args ...interface{}) { getLogger().Errorf(format, args...) }
func Warnf(format string, args ...interface{})  { getLogger().Warnf(format, args...) }
func Infof(format string, args ...interface{})  { getLogger().Infof(format, args...) }
func Info(args ...interface{})                  { getLogger().Info(args...) }
func Debugf(format string, args ...interface{}) { getLogger().Debugf(format, args...) }

// defaultLog zerolog backed logger, console format
type defaultLog struct {
	log zerolog.Logger
}

func newDefaultLogger(output io.Writer) *defaultLog {
	return &defaultLog{log: newZerolog(output, zerolog.InfoLevel)}
}

func newZerolog(output io.Writer, level zerolog.Level) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	if f, ok := output.(*os.File); !ok || (f != os.Stdout && f != os.Stderr) {
		w.NoColor = true
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", "mcnet").Logger()
}

func (l *defaultLog) SetOutput(output io.Writer) {
	l.log = newZerolog(output, l.log.GetLevel())
}

func (l *defaultLog) SetLevel(level string) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		lv = zerolog.InfoLevel
	}
	l.log = l.log.Level(lv)
}

// defaultLog.WithStack log err with the stack of the caller, used by recover
func (l *defaultLog) WithStack(err interface{}) {
	er, ok := err.(error)
	if !ok {
		er = errors.Errorf("%v", err)
	} else {
		er = errors.WithStack(er)
	}
	l.log.Error().Msgf("\n%+v", er)
}

func (l *defaultLog) Fatalf(format string, args ...interface{}) {
	l.log.Fatal().Msgf(format, args...)
}

func (l *defaultLog) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(sprint(args...))
}

func (l *defaultLog) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *defaultLog) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *defaultLog) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *defaultLog) Info(args ...interface{}) {
	l.log.Info().Msg(sprint(args...))
}

func (l *defaultLog) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
