// Command capturefile-inspect opens a capture file read-only and reports
// its configuration, record count, metadata presence, and tree height.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sirgallo/capturefile"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var utf8 bool
	var recordNumber uint64
	var verbose bool

	cmd := &cobra.Command{
		Use:   "capturefile-inspect <path>",
		Short: "Inspect a capture file without modifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], utf8, recordNumber, verbose)
		},
	}

	cmd.Flags().BoolVar(&utf8, "utf8", false, "decode the --record value as UTF-8 text instead of printing its byte length")
	cmd.Flags().Uint64Var(&recordNumber, "record", 0, "print the record at this 1-based number in addition to the summary")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "emit debug-level lifecycle logs to stderr")

	return cmd
}

func runInspect(path string, utf8 bool, recordNumber uint64, verbose bool) error {
	runID := uuid.New()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("run_id", runID.String()).Logger().Level(level)

	logger.Info().Str("path", path).Msg("opening capture file")

	cf, err := capturefile.Open(capturefile.CaptureFileOpts{
		FilePath: path,
		ToWrite:  false,
		Logger:   &logger,
	})
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer cf.Close()

	fmt.Println(cf.String())
	config := cf.Config()
	fmt.Printf("config: version=%d page_size=%d compression_block_size=%d fan_out=%d\n",
		config.Version, config.PageSize, config.CompressionBlockSize, config.FanOut)
	fmt.Printf("tree height: %d\n", cf.TreeHeight())

	metadata, err := cf.GetMetadata()
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if metadata == nil {
		fmt.Println("metadata: none")
	} else if utf8 {
		fmt.Printf("metadata: %q\n", string(metadata))
	} else {
		fmt.Printf("metadata: %d bytes\n", len(metadata))
	}

	if recordNumber > 0 {
		record, err := cf.RecordAt(recordNumber)
		if err != nil {
			return fmt.Errorf("read record %d: %w", recordNumber, err)
		}
		if utf8 {
			fmt.Printf("record %d: %q\n", recordNumber, string(record))
		} else {
			fmt.Printf("record %d: %d bytes\n", recordNumber, len(record))
		}
	}

	logger.Debug().Uint64("record_count", cf.RecordCount()).Msg("inspection complete")
	return nil
}
