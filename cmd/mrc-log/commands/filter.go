package commands

import (
	"fmt"
	"io"

	"github.com/mesycontrol/mrc-go/pkg/log"
)

// RunFilter copies the events of the log at path that match filter into
// output. The output compression follows its extension.
func RunFilter(path, output string, filter log.Filter, w io.Writer) error {
	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = each(path, filter, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if closeErr := logger.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close output: %w", closeErr)
	}
	if err != nil {
		return err
	}
	if dropped := logger.Dropped(); dropped > 0 {
		return fmt.Errorf("%d of %d events could not be written", dropped, count)
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
