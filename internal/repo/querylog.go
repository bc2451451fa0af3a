package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// QueryLogger routes GORM's logging into zerolog. It logs through
// log.Ctx(ctx), so query lines carry the request fields. Failed statements
// are logged at error, slow ones at warn and the rest at trace.
// ErrRecordNotFound is not a failure.
type QueryLogger struct {
	slow  time.Duration
	level logger.LogLevel
}

// NewQueryLogger logs statements slower than slow at warn level.
func NewQueryLogger(slow time.Duration) *QueryLogger {
	return &QueryLogger{slow: slow, level: logger.Warn}
}

func (l *QueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *QueryLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		log.Ctx(ctx).Info().Msgf(msg, args...)
	}
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		log.Ctx(ctx).Warn().Msgf(msg, args...)
	}
}

func (l *QueryLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		log.Ctx(ctx).Error().Msgf(msg, args...)
	}
}

func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	lg := log.Ctx(ctx)

	var ev *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		ev = lg.Error().Err(err)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		ev = lg.Warn().Dur("slow_threshold", l.slow)
	default:
		ev = lg.Trace()
	}
	if !ev.Enabled() {
		return
	}
	sql, rows := fc()
	ev.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("sql")
}
