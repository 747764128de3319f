// Package transport defines the capability contracts that decouple protocol
// code from the concrete network transport, plus the helpers shared by every
// implementation (erasure, shared handles, error taxonomy).
//
// Key concepts:
// - Transport: binds listeners and connects streams of one Kind (tcp/mem/pipe/quic)
// - Listener: a reserved, not yet accepting endpoint; Listen turns it into an Acceptor
// - Acceptor: yields new Streams; duplicable, Close stops every handle
// - Stream: a duplex byte channel; duplicable, clones share the connection
// - Erased: a Stream boxed behind the uniform interface that still clones
// - Fresh/Streaming: sealed write-status tags for protocol request/response types
package transport
