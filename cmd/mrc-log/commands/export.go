package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category", "url",
	"type", "bus", "device", "param", "value", "detail",
}

// RunExport exports the matching events of the log at path. An empty
// output writes to stdout.
func RunExport(path, format, output string, filter log.Filter) error {
	var write func(io.Writer) error
	switch format {
	case "jsonl":
		write = func(w io.Writer) error { return exportJSONL(path, filter, w) }
	case "csv":
		write = func(w io.Writer) error { return exportCSV(path, filter, w) }
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	if output == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(path string, filter log.Filter, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(path, filter, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(path string, filter log.Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := each(path, filter, func(event log.Event) error {
		return cw.Write(csvRow(event))
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(event log.Event) []string {
	row := []string{
		event.Timestamp.UTC().Format(timeLayout),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.URL,
		typeLabel(event),
		"", "", "", "", "",
	}
	switch {
	case event.Message != nil:
		m := event.Message
		row[7] = optional(m.Bus)
		row[8] = optional(m.Device)
		row[9] = optional(m.Param)
		row[10] = optional(m.Value)
		switch {
		case m.Flag != nil:
			row[11] = strconv.FormatBool(*m.Flag)
		case m.ErrorCode != nil:
			row[11] = wire.ErrorCode(*m.ErrorCode).Name()
		case m.Status != nil:
			row[11] = wire.MRCStatus(*m.Status).String()
		}
	case event.Frame != nil:
		row[11] = strconv.Itoa(event.Frame.Size) + " bytes"
	case event.StateChange != nil:
		row[11] = event.StateChange.Entity.String() + ": " + event.StateChange.OldState + " -> " + event.StateChange.NewState
	case event.Error != nil:
		row[11] = event.Error.Message
	}
	return row
}

func optional[T uint8 | int32](v *T) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}
