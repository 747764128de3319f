package response

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/mem"
)

// connect returns the server and client ends of one mem connection.
func connect(t *testing.T) (server, client *mem.Stream) {
	t.Helper()
	tr := mem.New()
	l, err := tr.Bind(context.Background(), "http", 0)
	require.NoError(t, err)
	name, err := l.SocketName()
	require.NoError(t, err)
	a, err := l.Listen()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	client, err = tr.Connect(context.Background(), "http", name.(mem.Addr).Port)
	require.NoError(t, err)
	server, err = a.Accept()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func readResponse(t *testing.T, c io.Reader) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestChunkedResponse(t *testing.T) {
	server, client := connect(t)

	fresh := New(server)
	require.NoError(t, SetStatus(fresh, http.StatusCreated))
	require.NoError(t, SetHeader(fresh, "x-trace", "a"))
	require.NoError(t, AddHeader(fresh, "X-Trace", "b"))
	require.NoError(t, SetHeader(fresh, "X-Drop", "gone"))
	require.NoError(t, DelHeader(fresh, "x-drop"))

	res, err := Start(fresh)
	require.NoError(t, err)
	_, err = Write(res, []byte("hello "))
	require.NoError(t, err)
	_, err = io.WriteString(Writer(res), "world")
	require.NoError(t, err)
	require.NoError(t, End(res))

	resp, body := readResponse(t, client)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"a", "b"}, resp.Header.Values("X-Trace"))
	assert.Empty(t, resp.Header.Get("X-Drop"))
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "hello world", body)

	assert.Equal(t, http.StatusCreated, res.Status())
	assert.Equal(t, "chunked", res.Headers().Get("Transfer-Encoding"))
}

func TestContentLengthResponse(t *testing.T) {
	server, client := connect(t)

	fresh := New(server)
	require.NoError(t, SetHeader(fresh, "Content-Length", "4"))
	res, err := Start(fresh)
	require.NoError(t, err)

	_, err = Write(res, []byte("pong!"))
	assert.ErrorIs(t, err, ErrBodyTooLong)
	_, err = Write(res, []byte("pong"))
	require.NoError(t, err)
	require.NoError(t, End(res))

	resp, body := readResponse(t, client)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, resp.ContentLength)
	assert.Equal(t, "pong", body)
}

func TestFreshUnusableAfterStart(t *testing.T) {
	server, _ := connect(t)

	fresh := New(server)
	res, err := Start(fresh)
	require.NoError(t, err)

	assert.ErrorIs(t, SetStatus(fresh, http.StatusTeapot), ErrHeadersSent)
	assert.ErrorIs(t, SetHeader(fresh, "X-Late", "1"), ErrHeadersSent)
	assert.ErrorIs(t, DelHeader(fresh, "Transfer-Encoding"), ErrHeadersSent)
	_, err = Start(fresh)
	assert.ErrorIs(t, err, ErrHeadersSent)

	assert.Equal(t, http.StatusOK, fresh.Status())
	assert.Empty(t, res.Headers().Get("X-Late"))

	require.NoError(t, End(res))
	assert.ErrorIs(t, End(res), ErrEnded)
	_, err = Write(res, []byte("x"))
	assert.ErrorIs(t, err, ErrEnded)
}

func TestHeadersReturnsCopy(t *testing.T) {
	server, _ := connect(t)
	fresh := New(server)
	require.NoError(t, SetHeader(fresh, "X-A", "1"))
	h := fresh.Headers()
	h.Set("X-A", "2")
	assert.Equal(t, "1", fresh.Headers().Get("X-A"))
}

func TestInvalidStatus(t *testing.T) {
	server, _ := connect(t)
	assert.ErrorIs(t, SetStatus(New(server), 42), ErrInvalidStatus)
}

func TestShortBody(t *testing.T) {
	server, _ := connect(t)
	fresh := New(server)
	require.NoError(t, SetHeader(fresh, "Content-Length", "10"))
	res, err := Start(fresh)
	require.NoError(t, err)
	assert.Error(t, End(res))
}

func TestWorksOverErasedStream(t *testing.T) {
	server, client := connect(t)

	dup := transport.Abstract(server).Clone()
	defer dup.Close()
	res, err := Start(New(dup))
	require.NoError(t, err)
	_, err = Write(res, []byte("erased"))
	require.NoError(t, err)
	require.NoError(t, End(res))

	_, body := readResponse(t, client)
	assert.Equal(t, "erased", body)
}
