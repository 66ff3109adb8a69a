package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kvlite/kvlite"
)

func NewLoggingSession(logger *zap.Logger, underlying kvlite.Session) *loggingSession {
	return &loggingSession{
		logger:     logger,
		underlying: underlying,
	}
}

type loggingSession struct {
	logger     *zap.Logger
	underlying kvlite.Session
}

var _ kvlite.Session = (*loggingSession)(nil)

func (l loggingSession) Set(ctx context.Context, key string, value interface{}) (r *kvlite.Record, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to set key", zap.String("key", key), zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv set", zap.String("key", key), dur)
	}(time.Now())
	return l.underlying.Set(ctx, key, value)
}

func (l loggingSession) Get(ctx context.Context, key string) (r *kvlite.Record, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to get key", zap.String("key", key), zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv get", zap.String("key", key), dur)
	}(time.Now())
	return l.underlying.Get(ctx, key)
}

func (l loggingSession) List(ctx context.Context, prefix string, opts *kvlite.ListOptions) (res *kvlite.ListResult, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list prefix", zap.String("prefix", prefix), zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv list", zap.String("prefix", prefix), dur)
	}(time.Now())
	return l.underlying.List(ctx, prefix, opts)
}

func (l loggingSession) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to delete key", zap.String("key", key), zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv delete", zap.String("key", key), dur)
	}(time.Now())
	return l.underlying.Delete(ctx, key)
}

func (l loggingSession) DeleteAll(ctx context.Context, prefix string) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to delete prefix", zap.String("prefix", prefix), zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv delete all", zap.String("prefix", prefix), dur)
	}(time.Now())
	return l.underlying.DeleteAll(ctx, prefix)
}

func (l loggingSession) Transaction(ctx context.Context, fn func(kvlite.Session) error) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("transaction rolled back", zap.Error(err), dur)
			return
		}
		l.logger.Debug("transaction committed", dur)
	}(time.Now())
	return l.underlying.Transaction(ctx, fn)
}

func (l loggingSession) Sync(ctx context.Context) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to sync store", zap.Error(err), dur)
			return
		}
		l.logger.Debug("kv sync", dur)
	}(time.Now())
	return l.underlying.Sync(ctx)
}

func (l loggingSession) IsTransaction() bool {
	return l.underlying.IsTransaction()
}

func (l loggingSession) Close() (err error) {
	defer func() {
		if err != nil {
			l.logger.Debug("failed to close store", zap.Error(err))
			return
		}
		l.logger.Debug("kv close")
	}()
	return l.underlying.Close()
}
