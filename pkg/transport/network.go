package transport

import (
	"context"
	"net"
)

// ErasedAcceptor is an Acceptor of erased streams that can still be cloned.
type ErasedAcceptor interface {
	Acceptor[*Erased]
	Clone() ErasedAcceptor
}

// ErasedListener is a Listener whose acceptor yields erased streams.
type ErasedListener interface {
	SocketName() (net.Addr, error)
	Listen() (ErasedAcceptor, error)
	Close() error
}

// Network is a Transport with every type erased, for picking the transport
// at runtime.
type Network interface {
	Kind() Kind
	Bind(ctx context.Context, host string, port uint16) (ErasedListener, error)
	Connect(ctx context.Context, host string, port uint16) (*Erased, error)
}

// CloneableAcceptor is an Acceptor whose handles can be duplicated.
type CloneableAcceptor[S Stream, A any] interface {
	Acceptor[S]
	Cloner[A]
}

// Erase turns a typed transport into a Network.
func Erase[S Stream, A CloneableAcceptor[S, A], L Listener[S, A]](t Transport[S, A, L]) Network {
	return erasedNetwork[S, A, L]{t: t}
}

type erasedNetwork[S Stream, A CloneableAcceptor[S, A], L Listener[S, A]] struct {
	t Transport[S, A, L]
}

func (n erasedNetwork[S, A, L]) Kind() Kind { return n.t.Kind() }

func (n erasedNetwork[S, A, L]) Bind(ctx context.Context, host string, port uint16) (ErasedListener, error) {
	l, err := n.t.Bind(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return erasedListener[S, A, L]{l: l}, nil
}

func (n erasedNetwork[S, A, L]) Connect(ctx context.Context, host string, port uint16) (*Erased, error) {
	s, err := n.t.Connect(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return Abstract(s), nil
}

type erasedListener[S Stream, A CloneableAcceptor[S, A], L Listener[S, A]] struct {
	l L
}

func (l erasedListener[S, A, L]) SocketName() (net.Addr, error) { return l.l.SocketName() }
func (l erasedListener[S, A, L]) Close() error                  { return l.l.Close() }

func (l erasedListener[S, A, L]) Listen() (ErasedAcceptor, error) {
	a, err := l.l.Listen()
	if err != nil {
		return nil, err
	}
	return EraseAcceptor[S](a), nil
}

// EraseAcceptor wraps a typed acceptor so it yields erased streams.
func EraseAcceptor[S Stream, A CloneableAcceptor[S, A]](a A) ErasedAcceptor {
	return erasedAcceptor[S, A]{a: a}
}

type erasedAcceptor[S Stream, A CloneableAcceptor[S, A]] struct {
	a A
}

func (a erasedAcceptor[S, A]) Accept() (*Erased, error) {
	s, err := a.a.Accept()
	if err != nil {
		return nil, err
	}
	return Abstract(s), nil
}

func (a erasedAcceptor[S, A]) Close() error   { return a.a.Close() }
func (a erasedAcceptor[S, A]) Addr() net.Addr { return a.a.Addr() }

func (a erasedAcceptor[S, A]) Clone() ErasedAcceptor {
	return erasedAcceptor[S, A]{a: a.a.Clone()}
}
