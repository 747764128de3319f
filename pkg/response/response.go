// Package response writes HTTP/1.1 responses over any transport stream.
//
// A Response carries its write-status as a type parameter. Status and header
// setters only accept a *Response[transport.Fresh]; body writes only accept a
// *Response[transport.Streaming]. Start is the single transition between the
// two, so writing a header after the body has begun does not compile.
package response

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/krallin/hyper-02/pkg/transport"
)

var (
	// ErrHeadersSent is returned when a fresh response is used after Start.
	ErrHeadersSent = errors.New("response: headers already sent")
	// ErrEnded is returned by body writes after End.
	ErrEnded = errors.New("response: body already ended")
	// ErrInvalidStatus is returned for a status code outside 100-999.
	ErrInvalidStatus = errors.New("response: invalid status code")
	// ErrBodyTooLong is returned when the body exceeds the declared
	// Content-Length.
	ErrBodyTooLong = errors.New("response: body exceeds content-length")
)

// state is shared by the Fresh and Streaming views of one response.
type state struct {
	mu      sync.Mutex
	s       transport.Stream
	status  int
	header  http.Header
	started bool
	ended   bool
	chunked bool
	// remaining is the Content-Length budget left, or -1 when chunked.
	remaining int64
}

// Response is an HTTP response in write-status W.
type Response[W transport.WriteStatus] struct {
	st *state
}

// New returns a fresh 200 OK response that will be written to s.
func New(s transport.Stream) *Response[transport.Fresh] {
	return &Response[transport.Fresh]{st: &state{s: s, status: http.StatusOK, header: make(http.Header)}}
}

// Status returns the status code.
func (r *Response[W]) Status() int {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.status
}

// Headers returns a copy of the headers.
func (r *Response[W]) Headers() http.Header {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.header.Clone()
}

// fresh runs fn under the lock unless the headers have gone out.
func (r *Response[W]) fresh(fn func(st *state) error) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.started {
		return ErrHeadersSent
	}
	return fn(r.st)
}

// SetStatus sets the status code.
func SetStatus(r *Response[transport.Fresh], code int) error {
	if code < 100 || code > 999 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, code)
	}
	return r.fresh(func(st *state) error {
		st.status = code
		return nil
	})
}

// SetHeader replaces the values of a header.
func SetHeader(r *Response[transport.Fresh], key string, values ...string) error {
	return r.fresh(func(st *state) error {
		st.header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		return nil
	})
}

// AddHeader appends a value to a header.
func AddHeader(r *Response[transport.Fresh], key, value string) error {
	return r.fresh(func(st *state) error {
		st.header.Add(key, value)
		return nil
	})
}

// DelHeader removes a header.
func DelHeader(r *Response[transport.Fresh], key string) error {
	return r.fresh(func(st *state) error {
		st.header.Del(key)
		return nil
	})
}

// Start writes the status line and headers and returns the streaming view of
// the response. It succeeds once per response; the fresh value is unusable
// afterwards.
//
// Without a Content-Length header the body is sent chunked.
func Start(r *Response[transport.Fresh]) (*Response[transport.Streaming], error) {
	err := r.fresh(func(st *state) error {
		st.remaining = -1
		if cl := st.header.Get("Content-Length"); cl != "" {
			n, err := strconv.ParseInt(cl, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("response: bad content-length %q", cl)
			}
			st.remaining = n
			st.header.Del("Transfer-Encoding")
		} else {
			st.chunked = true
			st.header.Set("Transfer-Encoding", "chunked")
		}
		st.started = true
		if err := writeHead(st.s, st.status, st.header); err != nil {
			st.ended = true
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Response[transport.Streaming]{st: r.st}, nil
}

func writeHead(w io.Writer, status int, h http.Header) error {
	bw := bufio.NewWriter(w)
	text := http.StatusText(status)
	if text == "" {
		text = "status code " + strconv.Itoa(status)
	}
	fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", status, text)
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(bw, "%s: %s\r\n", k, v)
		}
	}
	bw.WriteString("\r\n")
	return bw.Flush()
}

// Write sends p as part of the body.
func Write(r *Response[transport.Streaming], p []byte) (int, error) {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ended {
		return 0, ErrEnded
	}
	if len(p) == 0 {
		return 0, nil
	}
	if st.chunked {
		if _, err := fmt.Fprintf(st.s, "%x\r\n", len(p)); err != nil {
			return 0, err
		}
		n, err := st.s.Write(p)
		if err != nil {
			return n, err
		}
		_, err = io.WriteString(st.s, "\r\n")
		return n, err
	}
	if int64(len(p)) > st.remaining {
		return 0, fmt.Errorf("%w: %d bytes left", ErrBodyTooLong, st.remaining)
	}
	n, err := st.s.Write(p)
	st.remaining -= int64(n)
	return n, err
}

// Writer adapts a streaming response to io.Writer.
func Writer(r *Response[transport.Streaming]) io.Writer { return bodyWriter{r} }

type bodyWriter struct{ r *Response[transport.Streaming] }

func (w bodyWriter) Write(p []byte) (int, error) { return Write(w.r, p) }

// Flush pushes buffered body bytes to the peer.
func Flush(r *Response[transport.Streaming]) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.ended {
		return ErrEnded
	}
	return r.st.s.Flush()
}

// End terminates the body and flushes the stream. It does not close the
// stream. A second End returns ErrEnded.
func End(r *Response[transport.Streaming]) error {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ended {
		return ErrEnded
	}
	st.ended = true
	if st.chunked {
		if _, err := io.WriteString(st.s, "0\r\n\r\n"); err != nil {
			return err
		}
	} else if st.remaining > 0 {
		return fmt.Errorf("response: body short by %d bytes", st.remaining)
	}
	return st.s.Flush()
}
