package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krallin/hyper-02/pkg/config"
	"github.com/krallin/hyper-02/pkg/core/netstack"
	"github.com/krallin/hyper-02/pkg/observability"
	"github.com/krallin/hyper-02/pkg/serve"
	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/metrics"
)

func newServeCmd(rf *rootFlags) *cobra.Command {
	var tf transportFlags
	var mode string
	var acceptors, workers int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept streams and echo them, or answer with an HTTP response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handler, err := handlerFor(mode)
			if err != nil {
				return err
			}
			var flagErr error
			cfg, cleanup, err := setup(rf, func(c *config.Config) {
				flagErr = tf.apply(&c.Server.Transport)
				if acceptors > 0 {
					c.Server.Acceptors = acceptors
				}
				if workers > 0 {
					c.Server.Workers = workers
				}
				if metricsAddr != "" {
					c.Metrics.Enable = true
					c.Metrics.Listen = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()
			if flagErr != nil {
				return flagErr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, handler)
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVarP(&mode, "mode", "m", "echo", "Handler: echo, http or frame")
	cmd.Flags().IntVar(&acceptors, "acceptors", 0, "Override server.acceptors")
	cmd.Flags().IntVar(&workers, "workers", 0, "Override server.workers")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	return cmd
}

// runServer serves cfg.Server until ctx is done.
func runServer(ctx context.Context, cfg *config.Config, h serve.Handler[*transport.Erased]) error {
	tc := cfg.Server.Transport
	a, addr, err := netstack.Listen(ctx, tc)
	if err != nil {
		return fmt.Errorf("listen %s: %w", tc.Kind, err)
	}

	if cfg.Metrics.Enable {
		reg := observability.NewRegistry()
		a = metrics.New(reg).WrapAcceptor(a, tc.TransportKind())
		ms, err := observability.StartMetrics(cfg.Metrics, reg)
		if err != nil {
			_ = a.Close()
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	zap.L().Info("hypernet serving", zap.String("app", cfg.AppName), zap.String("transport", tc.Kind), zap.Stringer("addr", addr))
	return serve.Run(ctx, a, serve.Options{
		Acceptors: cfg.Server.Acceptors,
		Workers:   cfg.Server.Workers,
		Kind:      tc.TransportKind(),
	}, h)
}
