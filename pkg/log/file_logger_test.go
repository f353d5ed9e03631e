package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func frameEvent(connID string, size int) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame:        &FrameEvent{Size: size, Data: []byte{1, 2, 3}},
	}
}

func TestCompressionForPath(t *testing.T) {
	tests := []struct {
		path string
		want Compression
	}{
		{"a.mlog", CompressionNone},
		{"a.mlog.zst", CompressionZstd},
		{"a.mlog.lz4", CompressionLZ4},
		{"/var/log/mrc", CompressionNone},
	}
	for _, tt := range tests {
		if got := CompressionForPath(tt.path); got != tt.want {
			t.Errorf("CompressionForPath(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	for _, name := range []string{"test.mlog", "test.mlog.zst", "test.mlog.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			logger, err := NewFileLogger(path)
			if err != nil {
				t.Fatalf("NewFileLogger failed: %v", err)
			}
			if logger.Compression() != CompressionForPath(name) {
				t.Errorf("Compression = %s", logger.Compression())
			}
			for i := 0; i < 100; i++ {
				logger.Log(frameEvent("conn-1", i))
			}
			if err := logger.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			r, err := NewReader(path)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			defer r.Close()

			events, err := r.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(events) != 100 {
				t.Fatalf("read %d events, want 100", len(events))
			}
			for i, ev := range events {
				if ev.Frame == nil || ev.Frame.Size != i {
					t.Fatalf("event %d: Frame = %+v", i, ev.Frame)
				}
			}
		})
	}
}

func TestFileLoggerAppendsUncompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mlog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(frameEvent("conn", i))
		logger.Close()
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("read %d events, want 2", len(events))
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mlog.zst")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Ignored after close.
	logger.Log(frameEvent("late", 1))
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				logger.Log(frameEvent("conn", i))
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		n++
	}
	if n != 400 {
		t.Errorf("read %d events, want 400", n)
	}
	if logger.Dropped() != 0 {
		t.Errorf("Dropped = %d", logger.Dropped())
	}
}

func TestNewFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "x.mlog"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
