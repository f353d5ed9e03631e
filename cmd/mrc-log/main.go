// Command mrc-log views and analyzes MRC protocol log files.
//
// Log files are written by mrcctl and mrc-sim when run with
// --protocol-log. The extension selects the compression: .mlog is plain
// CBOR, .mlog.zst is zstd and .mlog.lz4 is lz4.
//
// Usage:
//
//	mrc-log <command> [flags] <file.mlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View wire-layer events of bus 1
//	mrc-log view --layer wire --bus 1 mrcctl.mlog.zst
//
//	# View the error responses only
//	mrc-log view --message response_error mrcctl.mlog
//
//	# Export to CSV
//	mrc-log export --format csv -o events.csv mrcctl.mlog
//
//	# Keep a single connection
//	mrc-log filter --conn-id abc12345-... -o one.mlog mrcctl.mlog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/mesycontrol/mrc-go/cmd/mrc-log/commands"
)

const usage = `mrc-log - MRC Protocol Log Analyzer

Usage:
  mrc-log <command> [flags] <file.mlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "mrc-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set whose usage text starts with summary.
func newFlagSet(name, summary string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mrc-log %s - %s\n\nUsage:\n  mrc-log %s [flags] <file.mlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func addFilterFlags(fs *pflag.FlagSet) *commands.FilterFlags {
	f := &commands.FilterFlags{}
	fs.StringVar(&f.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&f.URL, "url", "", "Filter by MRC URL")
	fs.StringVar(&f.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&f.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&f.Layer, "layer", "", "Filter by layer (transport, wire, controller)")
	fs.StringVar(&f.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&f.Category, "category", "", "Filter by category (message, state, error)")
	fs.StringVar(&f.Message, "message", "", "Filter by message type name, e.g. request_read")
	fs.IntVar(&f.Bus, "bus", -1, "Filter by bus (0 or 1)")
	return f
}

// logPath parses args and returns the single log file argument.
func logPath(fs *pflag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := newFlagSet("view", "View log file in human-readable format")
	flags := addFilterFlags(fs)
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	filter, err := flags.Build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export log file to JSONL or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")
	flags := addFilterFlags(fs)
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	filter, err := flags.Build()
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output, filter)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.StringP("output", "o", "", "Output file (required)")
	flags := addFilterFlags(fs)
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}
	filter, err := flags.Build()
	if err != nil {
		return err
	}
	return commands.RunFilter(path, *output, filter, os.Stdout)
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics about the log file")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
