// Package cli wires cobra commands to a shared logger and an interrupt-aware
// context.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

// Input carries what every command needs besides its own flags.
type Input struct {
	Logger *slog.Logger
	Stdout io.Writer
}

// CLI is the root command of the tool.
type CLI struct {
	root *cobra.Command
}

// NewCLI creates the root command with the logging flags.
func NewCLI(name, short string) *CLI {
	root := &cobra.Command{
		Use:           name,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagLogLevel, "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String(flagLogFormat, "text", "Log format (text, json)")

	return &CLI{root: root}
}

// AddCommands registers subcommands.
func (c *CLI) AddCommands(cmds ...*cobra.Command) {
	c.root.AddCommand(cmds...)
}

// Run executes the command line in os.Args. The first SIGINT or SIGTERM
// cancels the command context and commands decide when to observe it. A
// second signal terminates the process.
func (c *CLI) Run() error {
	ctx, stop := notifyOnce(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.Execute(ctx, os.Args[1:]...)
}

// notifyOnce is signal.NotifyContext that restores default signal handling
// as soon as the context is done.
func notifyOnce(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, signals...)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

// Execute runs the command line args with ctx.
func (c *CLI) Execute(ctx context.Context, args ...string) error {
	c.root.SetArgs(args)
	return c.root.ExecuteContext(ctx)
}

// WithContext adapts a command body to cobra's RunE, building the logger
// from the persistent flags.
func WithContext(fn func(ctx context.Context, input Input) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		level, format := "info", "text"
		if f := cmd.Flag(flagLogLevel); f != nil {
			level = f.Value.String()
		}
		if f := cmd.Flag(flagLogFormat); f != nil {
			format = f.Value.String()
		}

		logger, err := NewLogger(cmd.ErrOrStderr(), level, format)
		if err != nil {
			return err
		}

		return fn(cmd.Context(), Input{
			Logger: logger,
			Stdout: cmd.OutOrStdout(),
		})
	}
}

// NewLogger builds a slog logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.Newf("invalid log format %q", format)
	}
}
