package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "freestuffbot/pkg/logx"
)

// Middleware wraps a command handler.
type Middleware func(next HandlerFunc) HandlerFunc

// slowCommand is the point where a successful command is worth an info line.
const slowCommand = 750 * time.Millisecond

// Chain applies m so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// withDeadline bounds a command by d; zero leaves the context alone.
func withDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// withRecover turns a handler panic into an error and tells the chat the
// command broke instead of leaving the chat without an answer.
func withRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				err = fmt.Errorf("command panicked: %v", r)
				reqLogger(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				if req != nil && req.Adapter != nil {
					_, _ = req.Adapter.SendText(ctx, req.Chat, "internal error, see logs", nil)
				}
			}()
			return next(ctx, req)
		}
	}
}

// withCommandLog writes one line per command: failures at warn, slow
// successes at info and the rest at debug.
func withCommandLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := reqLogger(log, req)
			fields := []logx.Field{logx.Int("args", len(req.Args)), logx.Duration("took", took)}
			switch {
			case err != nil:
				l.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slowCommand:
				l.Info("command done", fields...)
			default:
				l.Debug("command done", fields...)
			}
			return err
		}
	}
}
