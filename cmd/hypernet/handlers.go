package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/krallin/hyper-02/pkg/protocol"
	"github.com/krallin/hyper-02/pkg/protocol/codec"
	"github.com/krallin/hyper-02/pkg/response"
	"github.com/krallin/hyper-02/pkg/serve"
	"github.com/krallin/hyper-02/pkg/transport"
)

func handlerFor(mode string) (serve.Handler[*transport.Erased], error) {
	switch mode {
	case "echo":
		return echoHandler, nil
	case "http":
		return httpHandler, nil
	case "frame":
		reg, err := codec.NewRegistry()
		if err != nil {
			return nil, err
		}
		return frameHandler(reg), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// echoHandler writes back everything it reads, flushing after every read.
func echoHandler(ctx context.Context, s *transport.Erased) {
	buf := make([]byte, 32*1024)
	var total int64
	defer func() { serve.Logger(ctx).Debug("echo done", zap.Int64("bytes", total)) }()
	for {
		n, err := s.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				serve.Logger(ctx).Debug("echo write failed", zap.Error(werr))
				return
			}
			if werr := s.Flush(); werr != nil {
				serve.Logger(ctx).Debug("echo flush failed", zap.Error(werr))
				return
			}
			total += int64(n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				serve.Logger(ctx).Debug("echo read failed", zap.Error(err))
			}
			return
		}
	}
}

// httpHandler answers every request on a keep-alive connection with a short
// text body naming the request.
func httpHandler(ctx context.Context, s *transport.Erased) {
	br := bufio.NewReader(s)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				serve.Logger(ctx).Debug("bad request", zap.Error(err))
			}
			return
		}
		if _, err := io.Copy(io.Discard, req.Body); err != nil {
			return
		}
		_ = req.Body.Close()

		body := fmt.Sprintf("%s %s via hypernet conn %s\n", req.Method, req.URL.Path, serve.ConnID(ctx))
		fresh := response.New(s)
		_ = response.SetHeader(fresh, "Content-Type", "text/plain; charset=utf-8")
		_ = response.SetHeader(fresh, "Content-Length", strconv.Itoa(len(body)))
		if req.Close {
			_ = response.SetHeader(fresh, "Connection", "close")
		}
		res, err := response.Start(fresh)
		if err != nil {
			return
		}
		if _, err := io.WriteString(response.Writer(res), body); err != nil {
			return
		}
		if err := response.End(res); err != nil {
			serve.Logger(ctx).Debug("response failed", zap.Error(err))
			return
		}
		if req.Close {
			return
		}
	}
}

// frameHandler answers every MsgPing frame with a MsgPong carrying the same
// body plus the connection id, encoded in the format of the ping.
func frameHandler(reg *codec.Registry) serve.Handler[*transport.Erased] {
	return func(ctx context.Context, s *transport.Erased) {
		c := protocol.NewConn(s, reg)
		var e protocol.Envelope
		for {
			if err := c.Recv(&e); err != nil {
				if !errors.Is(err, io.EOF) {
					serve.Logger(ctx).Debug("bad frame", zap.Error(err))
				}
				return
			}
			switch e.Header.Type {
			case protocol.MsgClose:
				return
			case protocol.MsgPing:
			default:
				continue
			}
			reply, err := pongFor(c, &e, serve.ConnID(ctx))
			if err != nil {
				serve.Logger(ctx).Debug("undecodable ping", zap.Error(err))
				return
			}
			if err := c.SendValue(protocol.MsgPong, e.Header.Format, reply); err != nil {
				return
			}
		}
	}
}

func pongFor(c *protocol.Conn, e *protocol.Envelope, connID string) (any, error) {
	if e.Header.Format == protocol.FormatProto {
		var body structpb.Struct
		if err := c.Decode(e, &body); err != nil {
			return nil, err
		}
		if body.Fields == nil {
			body.Fields = map[string]*structpb.Value{}
		}
		body.Fields["conn"] = structpb.NewStringValue(connID)
		return &body, nil
	}
	body := map[string]any{}
	if err := c.Decode(e, &body); err != nil {
		return nil, err
	}
	body["conn"] = connID
	return body, nil
}
