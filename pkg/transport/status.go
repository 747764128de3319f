package transport

// WriteStatus tags a protocol request or response with whether its headers
// have been written. Only Fresh and Streaming implement it.
type WriteStatus interface {
	writeStatus()
}

// Fresh is the write-status of a value whose headers have not been written.
type Fresh struct{}

// Streaming is the write-status of a value whose headers have been written.
type Streaming struct{}

func (Fresh) writeStatus()     {}
func (Streaming) writeStatus() {}
