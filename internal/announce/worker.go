package announce

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "freestuffbot/pkg/logx"

	"freestuffbot/internal/transport"
)

// requeueTimeout bounds the store write that returns an in-flight id after
// the broadcast context is gone.
const requeueTimeout = 5 * time.Second

// worker drains one broadcast's pending set. All workers of a broadcast share
// the store, the limiter and the payload; a worker holds at most one chat id.
type worker struct {
	idx      int
	id       BroadcastID
	payload  Payload
	store    QueueStore
	configs  ConfigStore
	deliver  Deliverer
	limiter  *RateLimiter
	timeout  time.Duration
	log      logx.Logger
	inFlight int64
	holding  bool
}

// run loops until pending is observed empty. A nil return means drained;
// ctx.Err() means the broadcast was canceled with every popped id returned.
func (w *worker) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("delivery worker panicked", logx.Int("worker", w.idx), logx.Any("panic", r))
			if w.holding {
				w.restore(ctx, false)
			}
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chatID, ok, err := w.store.Pop(ctx, w.id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		w.inFlight, w.holding = chatID, true
		if err := w.process(ctx, chatID); err != nil {
			return err
		}
		w.holding = false
	}
}

// process handles one popped chat. Skips leave the id held; run releases it.
func (w *worker) process(ctx context.Context, chatID int64) error {
	cfg, found, err := w.configs.ChatConfig(ctx, chatID)
	if err != nil {
		w.restore(ctx, true)
		return fmt.Errorf("load chat config %d: %w", chatID, err)
	}
	if !found {
		// The chat may have moved while popped; its config now lives under the new id.
		if _, err := w.store.Forward(ctx, w.id, chatID); err != nil {
			w.restore(ctx, true)
			return err
		}
		return nil
	}
	post, owed := render(w.payload, cfg)
	if !owed {
		return nil
	}

	if err := w.limiter.Consume(ctx); err != nil {
		w.restore(ctx, true)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	d, err := w.deliver.SendPost(sendCtx, transport.ChatTarget{ChatID: chatID}, post)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			w.restore(ctx, true)
			return ctx.Err()
		}
		w.log.Debug("delivery failed", logx.Int64("chat_id", chatID), logx.Err(err))
		if err := w.store.PushFailed(ctx, w.id, chatID); err != nil {
			return err
		}
		w.holding = false
		return nil
	}
	w.holding = false

	if c := deliveryCounter(d.Kind); c != "" {
		if err := w.store.Incr(ctx, w.id, c, 1); err != nil {
			return err
		}
	}
	if d.Kind.HasMembers() {
		n, err := w.deliver.MemberCount(ctx, chatID)
		if err != nil {
			w.log.Debug("member count unavailable", logx.Int64("chat_id", chatID), logx.Err(err))
		} else if n > 0 {
			if err := w.store.Incr(ctx, w.id, memberCounter(d.Kind), int64(n)); err != nil {
				return err
			}
		}
	}
	return nil
}

// restore puts the in-flight id back, into pending or failed. The write
// outlives ctx so a shutdown never drops the id.
func (w *worker) restore(ctx context.Context, pending bool) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	push := w.store.PushFailed
	if pending {
		push = w.store.PushPending
	}
	if err := push(rctx, w.id, w.inFlight); err != nil && !errors.Is(err, ErrUnknownBroadcast) {
		w.log.Error("could not return chat to queue",
			logx.Int64("chat_id", w.inFlight), logx.Bool("pending", pending), logx.Err(err))
		return
	}
	w.holding = false
}
