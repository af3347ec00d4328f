// Package logx provides structured, leveled logging for the worker
// fleet, scoped per subsystem (scraper, dispatch, chunker, pipeline) with
// a job/company context attached to every line.
package logx

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseMu   sync.RWMutex
	base     *zap.Logger
	initOnce sync.Once
)

func root() *zap.Logger {
	initOnce.Do(func() {
		var l *zap.Logger
		var err error
		if os.Getenv("CP_ENV") == "production" {
			l, err = zap.NewProduction()
		} else {
			l, err = zap.NewDevelopment()
		}
		if err != nil {
			l = zap.NewNop()
		}
		baseMu.Lock()
		base = l
		baseMu.Unlock()
	})
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// SetLevel replaces the root logger with a production-config (JSON)
// logger at the given minimum level. Loggers created by New before the
// call keep the root logger they were built from.
func SetLevel(level zapcore.Level) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		return
	}
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

// Logger wraps a zap.SugaredLogger scoped to one subsystem, carrying
// fields (company_id, job_id, step) across every call site in that
// subsystem without each call needing to repeat them.
type Logger struct {
	s *zap.SugaredLogger
}

// New creates a subsystem-scoped logger, e.g. logx.New("scraper").
func New(subsystem string) *Logger {
	return &Logger{s: root().Sugar().With("subsystem", subsystem)}
}

// With returns a derived logger carrying additional structured fields.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{s: l.s.With(keysAndValues...)}
}

// WithJob returns a derived logger tagged with a job and company ID,
// the pair every pipeline log line carries.
func (l *Logger) WithJob(jobID, companyID string) *Logger {
	return l.With("job_id", jobID, "company_id", companyID)
}

// WithStep returns a derived logger tagged with the current pipeline
// step name (discovery|scrape|chunk|llm|total).
func (l *Logger) WithStep(step string) *Logger {
	return l.With("step", step)
}

func (l *Logger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }

// Sync flushes buffered log entries; call before process exit.
func Sync() {
	_ = root().Sync()
}
