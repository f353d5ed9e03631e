package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for filtering log events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// ConnectionID filters by exact connection ID match.
	ConnectionID string

	// Direction filters by message direction. Events without a frame or
	// message never match a direction filter.
	Direction *Direction

	// Layer filters by protocol layer.
	Layer *Layer

	// Category filters by event category.
	Category *Category

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time

	// URL filters by MRC URL.
	URL string

	// MessageName filters message events by wire type name, e.g. "request_set".
	MessageName string

	// Bus filters message events addressed to a bus.
	Bus *uint8
}

// Matches returns true if the event matches all filter criteria.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && (!event.Directed() || event.Direction != *f.Direction) {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.URL != "" && event.URL != f.URL {
		return false
	}
	if f.MessageName != "" && (event.Message == nil || event.Message.Name != f.MessageName) {
		return false
	}
	if f.Bus != nil && (event.Message == nil || event.Message.Bus == nil || *event.Message.Bus != *f.Bus) {
		return false
	}
	return true
}

// Reader reads protocol log events from a CBOR log file written by FileLogger.
// It provides an iterator interface for streaming large files.
type Reader struct {
	file    *os.File
	stream  io.ReadCloser
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader creates a Reader that reads all events from the specified log file.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that reads events matching the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err := decompressReader(f, CompressionForPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		file:    f,
		stream:  stream,
		decoder: NewDecoder(stream),
		filter:  filter,
	}, nil
}

// Next returns the next event that matches the filter.
// Returns io.EOF when no more events are available.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// ReadAll returns all remaining matching events.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Close closes the decompressor and the underlying file.
func (r *Reader) Close() error {
	return errors.Join(r.stream.Close(), r.file.Close())
}
