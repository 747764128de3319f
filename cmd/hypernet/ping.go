package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/krallin/hyper-02/pkg/config"
	"github.com/krallin/hyper-02/pkg/core/netstack"
	"github.com/krallin/hyper-02/pkg/protocol"
	"github.com/krallin/hyper-02/pkg/protocol/codec"
)

func newPingCmd(rf *rootFlags) *cobra.Command {
	var tf transportFlags
	var payload string
	var count int
	var format string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect to an echo server and time round trips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var flagErr error
			cfg, cleanup, err := setup(rf, func(c *config.Config) { flagErr = tf.apply(&c.Client.Transport) })
			if err != nil {
				return err
			}
			defer cleanup()
			if flagErr != nil {
				return flagErr
			}
			timeout := time.Duration(cfg.Client.TimeoutMS) * time.Millisecond
			f, err := protocol.ParseFormat(format)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				var rtt time.Duration
				if f == protocol.FormatRaw {
					rtt, err = ping(cmd.Context(), cfg.Client.Transport, []byte(payload), timeout)
				} else {
					rtt, err = pingFrame(cmd.Context(), cfg.Client.Transport, f, payload, timeout)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d bytes from %s: time=%s\n", len(payload), cfg.Client.Transport.Kind, rtt)
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&payload, "payload", "ping", "Bytes to send")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of round trips")
	cmd.Flags().StringVarP(&format, "format", "f", "raw", "raw echo, or a framed ping encoded as json, cbor or proto (serve --mode frame)")
	return cmd
}

// ping connects, sends payload, and waits for it to come back.
func ping(ctx context.Context, tc config.TransportConfig, payload []byte, timeout time.Duration) (time.Duration, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("empty payload")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	s, err := netstack.Dial(ctx, tc)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer s.Close()
	// Streams have no deadlines; closing the last handle unblocks the read.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	if _, err := s.Write(payload); err != nil {
		return 0, err
	}
	if err := s.Flush(); err != nil {
		return 0, err
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(s, got); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("no reply within %s: %w", timeout, ctx.Err())
		}
		return 0, err
	}
	if !bytes.Equal(got, payload) {
		return 0, fmt.Errorf("reply %q does not match %q", got, payload)
	}
	rtt := time.Since(start)
	zap.L().Debug("pong", zap.Duration("rtt", rtt))
	return rtt, nil
}

// pingFrame sends one framed MsgPing and waits for the MsgPong.
func pingFrame(ctx context.Context, tc config.TransportConfig, f protocol.Format, payload string, timeout time.Duration) (time.Duration, error) {
	reg, err := codec.NewRegistry()
	if err != nil {
		return 0, err
	}
	var body any = map[string]any{"payload": payload}
	if f == protocol.FormatProto {
		if body, err = structpb.NewStruct(map[string]any{"payload": payload}); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	s, err := netstack.Dial(ctx, tc)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	c := protocol.NewConn(s, reg)
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.SendValue(protocol.MsgPing, f, body); err != nil {
		return 0, err
	}
	var e protocol.Envelope
	if err := c.Recv(&e); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("no reply within %s: %w", timeout, ctx.Err())
		}
		return 0, err
	}
	if e.Header.Type != protocol.MsgPong {
		return 0, fmt.Errorf("unexpected frame type %d", e.Header.Type)
	}
	got, err := pongPayload(c, &e)
	if err != nil {
		return 0, err
	}
	if got != payload {
		return 0, fmt.Errorf("reply %q does not match %q", got, payload)
	}
	_ = c.Send(&protocol.Envelope{Header: protocol.Header{Type: protocol.MsgClose}})
	rtt := time.Since(start)
	zap.L().Debug("pong", zap.Duration("rtt", rtt), zap.Stringer("format", f))
	return rtt, nil
}

func pongPayload(c *protocol.Conn, e *protocol.Envelope) (string, error) {
	if e.Header.Format == protocol.FormatProto {
		var body structpb.Struct
		if err := c.Decode(e, &body); err != nil {
			return "", err
		}
		return body.Fields["payload"].GetStringValue(), nil
	}
	var body map[string]any
	if err := c.Decode(e, &body); err != nil {
		return "", err
	}
	s, _ := body["payload"].(string)
	return s, nil
}
