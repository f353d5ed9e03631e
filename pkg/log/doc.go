// Package log provides structured protocol capture for MRC connections.
//
// This package defines the Logger interface and Event types for recording
// protocol-level events at multiple layers (transport, wire, controller).
// It is separate from operational logging (slog): protocol capture yields a
// machine-readable trace of every frame, message and state change that can
// be inspected after the fact.
//
// # Basic Usage
//
//	// Development: protocol events on the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary file, zstd compressed
//	fl, _ := log.NewFileLogger("/var/log/mrc/session.mlog.zst")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded messages (MessageEvent)
//   - Connection and controller state (StateChangeEvent)
//   - Errors at any layer (ErrorEventData)
//
// # File Format
//
// Log files are a stream of CBOR encoded events. The file extension selects
// the compression: ".mlog" (none), ".mlog.zst" (zstd) or ".mlog.lz4" (LZ4).
// Read them back with NewReader or NewFilteredReader, or with the mrc-log
// command.
package log
