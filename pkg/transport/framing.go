package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix in bytes.
	LengthPrefixSize = 2

	// MaxFrameSize is the largest payload a 2 byte prefix can describe.
	MaxFrameSize = 1<<16 - 1

	// DefaultMaxMessageSize is the default maximum accepted payload size.
	DefaultMaxMessageSize = MaxFrameSize

	// MaxLogFrameDataSize is the maximum frame data size to include in logs.
	MaxLogFrameDataSize = 256

	readBufferSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// IsFrameError reports whether err is a per-frame error after which the
// stream is still aligned on the next frame.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrMessageEmpty) || errors.Is(err, ErrMessageTooLarge)
}

// frameLogger stamps frame events with a connection ID.
type frameLogger struct {
	logger log.Logger
	connID string
}

func (fl *frameLogger) logFrame(data []byte, direction log.Direction) {
	if fl.logger == nil {
		return
	}
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      LengthPrefixSize + len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize int
	mu             sync.Mutex
	buf            []byte
	frameLogger
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
// Sizes above MaxFrameSize are clamped.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize int) *FrameWriter {
	return &FrameWriter{w: w, maxMessageSize: clampFrameSize(maxSize)}
}

// SetLogger configures protocol logging for this writer. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes one frame: the length prefix and the payload in a
// single Write call. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.buf = binary.BigEndian.AppendUint16(fw.buf[:0], uint16(len(data)))
	fw.buf = append(fw.buf, data...)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	fw.logFrame(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames from a buffered reader.
type FrameReader struct {
	r              *bufio.Reader
	maxMessageSize int
	lengthBuf      [LengthPrefixSize]byte
	frameLogger
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize int) *FrameReader {
	return &FrameReader{
		r:              bufio.NewReaderSize(r, readBufferSize),
		maxMessageSize: clampFrameSize(maxSize),
	}
}

// SetLogger configures protocol logging for this reader. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads one frame and returns its payload.
//
// A zero length frame returns ErrMessageEmpty and an oversized frame is
// skipped and returns ErrMessageTooLarge; in both cases the reader stays
// aligned and the next call reads the following frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := int(binary.BigEndian.Uint16(fr.lengthBuf[:]))
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		if _, err := fr.r.Discard(length); err != nil {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	fr.logFrame(payload, log.DirectionIn)
	return payload, nil
}

// Buffered returns the number of bytes already read from the underlying
// reader but not yet consumed.
func (fr *FrameReader) Buffered() int {
	return fr.r.Buffered()
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures logging for both reader and writer.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

func clampFrameSize(n int) int {
	if n <= 0 || n > MaxFrameSize {
		return MaxFrameSize
	}
	return n
}
