package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canreplay/pkg/cli"
	"github.com/BIwashi/canreplay/pkg/csvlog"
	"github.com/BIwashi/canreplay/pkg/dbc"
	"github.com/BIwashi/canreplay/pkg/mcap"
	"github.com/BIwashi/canreplay/pkg/pcapng"
	engine "github.com/BIwashi/canreplay/pkg/replay"
	"github.com/BIwashi/canreplay/pkg/serial"
)

type replayer struct {
	port       string
	csvFile    string
	pcapngFile string
	dbcFile    string
	recordFile string
	serial     serial.Options
	config     engine.Config

	// connect is swapped in tests.
	connect func(ctx context.Context, path string, opts serial.Options) (io.ReadWriteCloser, error)
}

func NewCommand() *cobra.Command {
	return newCommand(&replayer{
		port:    "/dev/ttyACM1",
		serial:  serial.DefaultOptions(),
		config:  engine.DefaultConfig(),
		connect: openSerial,
	})
}

func newCommand(s *replayer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a CAN log to a device over a serial port.",
		Long: `Replay a captured CAN log toward a device over a serial link.

Frames are sent one at a time, spaced like the recording and scaled by the
speed factor. Every --adjust-interval acknowledged frames the speed factor is
recalibrated so that real elapsed time keeps up with log elapsed time.
Ctrl+C stops the replay after the frame in flight and sends END to the device.`,
		Example: `  # Replay a CSV log at recorded speed
  canreplay replay --port /dev/ttyACM1 --csv-file data/log.csv

  # Replay a pcapng capture twice as fast, without drift correction, and record a journal
  canreplay replay --pcapng-file capture.pcapng --speed 2 --auto-adjust=false --record-file replay.mcap`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.port, "port", s.port, "Serial device path")
	cmd.Flags().IntVar(&s.serial.BaudRate, "baud", s.serial.BaudRate, "Serial baud rate")
	cmd.Flags().DurationVar(&s.serial.ReadTimeout, "read-timeout", s.serial.ReadTimeout, "Timeout for each device acknowledgement")
	cmd.Flags().DurationVar(&s.serial.Settle, "settle", s.serial.Settle, "Pause after opening the port before the first frame")
	cmd.Flags().StringVar(&s.csvFile, "csv-file", s.csvFile, "CSV log file")
	cmd.Flags().StringVar(&s.pcapngFile, "pcapng-file", s.pcapngFile, "PCAPNG capture file")
	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "DBC file used to name messages in debug logs (optional)")
	cmd.Flags().StringVar(&s.recordFile, "record-file", s.recordFile, "MCAP file recording every send attempt (optional)")
	cmd.Flags().Float64Var(&s.config.InitialSpeed, "speed", s.config.InitialSpeed, "Initial speed factor")
	cmd.Flags().BoolVar(&s.config.AutoAdjust, "auto-adjust", s.config.AutoAdjust, "Recalibrate the speed factor from measured drift")
	cmd.Flags().IntVar(&s.config.AdjustInterval, "adjust-interval", s.config.AdjustInterval, "Acknowledged frames between speed recalibrations")
	cmd.Flags().Float64Var(&s.config.MinSpeed, "min-speed", s.config.MinSpeed, "Lower bound of the speed factor")
	cmd.Flags().Float64Var(&s.config.MaxSpeed, "max-speed", s.config.MaxSpeed, "Upper bound of the speed factor")
	cmd.Flags().IntVar(&s.config.StatusInterval, "status-interval", s.config.StatusInterval, "Acknowledged frames between progress lines (0 disables)")

	cmd.MarkFlagsOneRequired("csv-file", "pcapng-file")
	cmd.MarkFlagsMutuallyExclusive("csv-file", "pcapng-file")

	return cmd
}

func openSerial(ctx context.Context, path string, opts serial.Options) (io.ReadWriteCloser, error) {
	return serial.Open(ctx, path, opts)
}

func (s *replayer) run(ctx context.Context, input cli.Input) error {
	if err := s.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}

	input.Logger.Info("Starting CAN log replay",
		"port", s.port,
		"csv_file", s.csvFile,
		"pcapng_file", s.pcapngFile,
		"speed", s.config.InitialSpeed,
		"auto_adjust", s.config.AutoAdjust,
	)

	source, closeSource, err := s.openSource()
	if err != nil {
		return err
	}
	defer closeSource()

	opts := []engine.Option{engine.WithLogger(input.Logger)}

	if s.dbcFile != "" {
		catalog, err := dbc.LoadCatalog(s.dbcFile)
		if err != nil {
			return errors.Wrap(err, "failed to load DBC file")
		}
		input.Logger.Info(fmt.Sprintf("Found %d messages in DBC file", catalog.Len()))
		opts = append(opts, engine.WithObserver(newSignalLogger(catalog, input.Logger)))
	}

	if s.recordFile != "" {
		out, err := os.Create(s.recordFile)
		if err != nil {
			return errors.Wrap(err, "failed to create record file")
		}
		defer out.Close()

		journal, err := mcap.NewJournal(out)
		if err != nil {
			return errors.Wrap(err, "failed to create journal")
		}
		defer func() {
			if err := journal.Close(); err != nil {
				input.Logger.Warn("Failed to finalize record file", "error", err)
			}
		}()
		opts = append(opts, engine.WithObserver(journal))
	}

	connect := func(ctx context.Context) (io.ReadWriteCloser, error) {
		input.Logger.Info("Connecting", "port", s.port, "baud", s.serial.BaudRate)
		conn, err := s.connect(ctx, s.port, s.serial)
		if err != nil {
			return nil, err
		}
		input.Logger.Info("Connected", "port", s.port)
		return conn, nil
	}

	session, err := engine.NewSession(s.config, source, connect, opts...)
	if err != nil {
		return err
	}

	summary, err := session.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "replay failed")
	}

	fmt.Fprintf(input.Stdout, "\nSummary (%s):\n", summary.Outcome)
	fmt.Fprintf(input.Stdout, "  Frames sent: %d\n", summary.Sent)
	fmt.Fprintf(input.Stdout, "  Errors:      %d\n", summary.Errors)
	fmt.Fprintf(input.Stdout, "  Final speed: %.2fx\n", summary.FinalSpeed)
	fmt.Fprintf(input.Stdout, "  Elapsed:     %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(input.Stdout, "  Log elapsed: %s\n", summary.LogElapsed.Round(time.Millisecond))

	if summary.Err != nil {
		return errors.Wrap(summary.Err, "replay stopped early")
	}
	return nil
}

func (s *replayer) openSource() (engine.Source, func(), error) {
	path := s.csvFile
	if path == "" {
		path = s.pcapngFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open log file")
	}
	closeFile := func() { _ = f.Close() }

	var source engine.Source
	if s.csvFile != "" {
		source, err = csvlog.NewReader(f)
	} else {
		source, err = pcapng.NewReader(f)
	}
	if err != nil {
		closeFile()
		return nil, nil, errors.Wrapf(err, "failed to read %s", path)
	}

	return source, closeFile, nil
}
