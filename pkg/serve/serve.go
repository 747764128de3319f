// Package serve runs accept loops over any transport and hands each accepted
// stream to a handler on a bounded worker pool.
package serve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/krallin/hyper-02/pkg/observability"
	"github.com/krallin/hyper-02/pkg/transport"
)

// Handler serves one stream. The stream is closed when the handler returns.
type Handler[S transport.Stream] func(ctx context.Context, s S)

// Options tunes Run. Zero values pick the defaults.
type Options struct {
	// Acceptors is the number of acceptor clones accepting concurrently.
	Acceptors int
	// Workers bounds the number of handlers running at once. Accept loops
	// block while every worker is busy.
	Workers int
	// Kind labels log lines.
	Kind transport.Kind
	// Logger defaults to zap.L().
	Logger *zap.Logger
}

func (o *Options) defaults() {
	if o.Acceptors <= 0 {
		o.Acceptors = 1
	}
	if o.Workers <= 0 {
		o.Workers = 256
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
}

type ctxKey struct{}

type connInfo struct {
	id  string
	log *zap.Logger
}

// ConnID returns the id Run assigned to the stream being handled.
func ConnID(ctx context.Context) string {
	if ci, ok := ctx.Value(ctxKey{}).(connInfo); ok {
		return ci.id
	}
	return ""
}

// Logger returns a logger carrying the connection fields, or zap.L() outside
// a handler.
func Logger(ctx context.Context) *zap.Logger {
	if ci, ok := ctx.Value(ctxKey{}).(connInfo); ok {
		return ci.log
	}
	return zap.L()
}

// Run accepts on opts.Acceptors clones of a until the acceptor is closed or
// ctx is done, then waits for running handlers. Cancelling ctx closes a.
//
// Transient accept failures are logged and accepting continues. Run returns
// nil on a clean shutdown.
func Run[S transport.Stream, A transport.CloneableAcceptor[S, A]](ctx context.Context, a A, opts Options, h Handler[S]) error {
	opts.defaults()
	log := opts.Logger.With(zap.String("transport", opts.Kind.String()), zap.Stringer("addr", a.Addr()))

	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p any) {
		log.Error("handler panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return fmt.Errorf("serve: worker pool: %w", err)
	}
	defer pool.Release()

	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	var handlers sync.WaitGroup
	var loops sync.WaitGroup
	for i := 0; i < opts.Acceptors; i++ {
		clone := a.Clone()
		loops.Add(1)
		go func() {
			defer loops.Done()
			defer clone.Close()
			acceptLoop(ctx, clone, pool, &handlers, log.With(zap.Int("acceptor", i)), opts.Kind, h)
		}()
	}
	log.Info("serving", zap.Int("acceptors", opts.Acceptors), zap.Int("workers", opts.Workers))

	loops.Wait()
	handlers.Wait()
	log.Info("stopped")
	return nil
}

func acceptLoop[S transport.Stream](ctx context.Context, a transport.Acceptor[S], pool *ants.Pool, handlers *sync.WaitGroup, log *zap.Logger, kind transport.Kind, h Handler[S]) {
	for {
		s, err := a.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrAcceptorClosed) {
				return
			}
			log.Warn("accept failed", zap.Error(err))
			continue
		}

		id := uuid.NewString()
		clog := log.With(observability.StreamFields(kind, id, s)...)
		cctx := context.WithValue(ctx, ctxKey{}, connInfo{id: id, log: clog})
		clog.Debug("accepted")

		handlers.Add(1)
		err = pool.Submit(func() {
			defer handlers.Done()
			defer func() {
				if err := s.Close(); err != nil {
					clog.Debug("close failed", zap.Error(err))
				}
			}()
			h(cctx, s)
		})
		if err != nil {
			handlers.Done()
			clog.Warn("dropping stream", zap.Error(err))
			_ = s.Close()
		}
	}
}
