// Package metrics instruments streams and acceptors with Prometheus
// counters. Instrumentation survives duplication: a clone of an instrumented
// stream is instrumented too.
package metrics

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/krallin/hyper-02/pkg/transport"
)

// Collectors groups the counters shared by every instrumented value. Labels
// are the transport kind.
type Collectors struct {
	BytesRead    *prometheus.CounterVec
	BytesWritten *prometheus.CounterVec
	Flushes      *prometheus.CounterVec
	IOErrors     *prometheus.CounterVec
	Accepts      *prometheus.CounterVec
	AcceptErrors *prometheus.CounterVec
	OpenStreams  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_stream_read_bytes_total",
			Help: "Total number of bytes read from streams",
		}, []string{"transport"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_stream_written_bytes_total",
			Help: "Total number of bytes written to streams",
		}, []string{"transport"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_stream_flushes_total",
			Help: "Total number of stream flushes",
		}, []string{"transport"}),
		IOErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_stream_io_errors_total",
			Help: "Total number of failed stream operations",
		}, []string{"transport", "op"}), // op: read, write, flush
		Accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_accepts_total",
			Help: "Total number of accepted streams",
		}, []string{"transport"}),
		AcceptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypernet_accept_errors_total",
			Help: "Total number of transient accept failures",
		}, []string{"transport"}),
		OpenStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hypernet_open_stream_handles",
			Help: "Number of instrumented stream handles not yet closed",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(c.BytesRead, c.BytesWritten, c.Flushes, c.IOErrors, c.Accepts, c.AcceptErrors, c.OpenStreams)
	}
	return c
}

// Stream counts the traffic of the wrapped stream.
type Stream struct {
	inner transport.Stream
	kind  string
	c     *Collectors
	once  sync.Once
}

// Wrap instruments s under the given transport label.
func (c *Collectors) Wrap(s transport.Stream, kind transport.Kind) *Stream {
	c.OpenStreams.WithLabelValues(kind.String()).Inc()
	return &Stream{inner: s, kind: kind.String(), c: c}
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.inner.Read(p)
	s.c.BytesRead.WithLabelValues(s.kind).Add(float64(n))
	s.failed("read", err)
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.inner.Write(p)
	s.c.BytesWritten.WithLabelValues(s.kind).Add(float64(n))
	s.failed("write", err)
	return n, err
}

func (s *Stream) Flush() error {
	err := s.inner.Flush()
	s.c.Flushes.WithLabelValues(s.kind).Inc()
	s.failed("flush", err)
	return err
}

func (s *Stream) failed(op string, err error) {
	if err != nil && transport.IsIOError(err) {
		s.c.IOErrors.WithLabelValues(s.kind, op).Inc()
	}
}

func (s *Stream) PeerName() (net.Addr, error) { return s.inner.PeerName() }

func (s *Stream) Close() error {
	s.once.Do(func() { s.c.OpenStreams.WithLabelValues(s.kind).Dec() })
	return s.inner.Close()
}

// Clone duplicates the wrapped stream through its own CloneStream and
// instruments the duplicate.
func (s *Stream) Clone() *Stream {
	s.c.OpenStreams.WithLabelValues(s.kind).Inc()
	return &Stream{inner: s.inner.CloneStream(), kind: s.kind, c: s.c}
}

func (s *Stream) CloneStream() transport.Stream { return s.Clone() }

// Unwrap returns the instrumented stream.
func (s *Stream) Unwrap() transport.Stream { return s.inner }

// Acceptor counts accepts of an erased acceptor and instruments the streams
// it yields.
type Acceptor struct {
	inner transport.ErasedAcceptor
	kind  transport.Kind
	c     *Collectors
}

var _ transport.ErasedAcceptor = (*Acceptor)(nil)

// WrapAcceptor instruments a.
func (c *Collectors) WrapAcceptor(a transport.ErasedAcceptor, kind transport.Kind) *Acceptor {
	return &Acceptor{inner: a, kind: kind, c: c}
}

func (a *Acceptor) Accept() (*transport.Erased, error) {
	s, err := a.inner.Accept()
	if err != nil {
		if transport.IsAcceptError(err) {
			a.c.AcceptErrors.WithLabelValues(a.kind.String()).Inc()
		}
		return nil, err
	}
	a.c.Accepts.WithLabelValues(a.kind.String()).Inc()
	return transport.Abstract(a.c.Wrap(s.Unwrap(), a.kind)), nil
}

func (a *Acceptor) Close() error   { return a.inner.Close() }
func (a *Acceptor) Addr() net.Addr { return a.inner.Addr() }

func (a *Acceptor) Clone() transport.ErasedAcceptor {
	return &Acceptor{inner: a.inner.Clone(), kind: a.kind, c: a.c}
}
