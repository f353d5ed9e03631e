package log

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger writes protocol events to a file in CBOR format, optionally
// compressed. It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file        *os.File
	stream      io.WriteCloser
	encoder     *cbor.Encoder
	compression Compression
	mu          sync.Mutex
	closed      bool
	dropped     int
}

// NewFileLogger creates a FileLogger writing to path. The compression is
// chosen by extension (see CompressionForPath).
//
// Uncompressed files are appended to. Compressed files are truncated, since
// a compressed stream cannot be resumed after it was closed.
func NewFileLogger(path string) (*FileLogger, error) {
	c := CompressionForPath(path)
	flags := os.O_CREATE | os.O_WRONLY
	if c == CompressionNone {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	stream, err := compressWriter(f, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileLogger{
		file:        f,
		stream:      stream,
		encoder:     NewEncoder(stream),
		compression: c,
	}, nil
}

// Log writes an event to the log file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Logging must not disrupt the connection; failed events are only counted.
	if err := l.encoder.Encode(event); err != nil {
		l.dropped++
	}
}

// Dropped returns the number of events that could not be encoded.
func (l *FileLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Compression returns the compression in use.
func (l *FileLogger) Compression() Compression {
	return l.compression
}

// Close flushes the compressor and closes the log file.
// It is safe to call Close multiple times; later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return errors.Join(l.stream.Close(), l.file.Close())
}

var _ Logger = (*FileLogger)(nil)
