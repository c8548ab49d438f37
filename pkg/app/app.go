// Package app builds cobra commands from option structs. Every command reads
// its options from flags, HOMEPEER_* environment variables, an optional
// config file and a .env file, in that order of precedence.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	genericapiserver "k8s.io/apiserver/pkg/server"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/homepeer/pkg/log"
)

// NamedFlagSetOptions is implemented by the option struct of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete fills in derived fields after flags and config are loaded.
	Complete() error
	// Validate reports every invalid field.
	Validate() error
}

// LogOptionsProvider is implemented by options that carry logger settings.
// The logger is initialised from them before the command runs.
type LogOptionsProvider interface {
	LogOptions() *log.Options
}

// RunFunc is the body of a command.
type RunFunc func(ctx context.Context, args []string) error

// App is a command with its options and subcommands.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	noConfig    bool
	commands    []*App

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the options bound to the command's flags.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the command body.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithValidArgs sets a custom positional argument check.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithNoConfig drops the --config and --env-file flags.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithSubcommands adds child commands.
func WithSubcommands(apps ...*App) Option {
	return func(a *App) { a.commands = append(a.commands, apps...) }
}

// NewApp builds the command tree for name.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command { return a.cmd }

// Run executes the command tree until it returns or a termination signal is
// received, and exits the process on failure.
func (a *App) Run() {
	ctx := genericapiserver.SetupSignalContext()
	if err := a.cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	for _, sub := range a.commands {
		cmd.AddCommand(sub.Command())
	}

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	var cfg *configSource
	if !a.noConfig && a.runFunc != nil {
		cfg = newConfigSource(a.name)
		cfg.addFlags(fss.FlagSet("global"))
	}
	globalflag.AddGlobalFlags(fss.FlagSet("global"), cmd.Name())
	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, fss, 0)

	if a.runFunc != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			if err := a.prepare(cmd, cfg); err != nil {
				return err
			}
			return a.runFunc(cmd.Context(), args)
		}
	}

	a.cmd = cmd
}

// prepare loads configuration into the options, completes and validates
// them, and initialises the logger.
func (a *App) prepare(cmd *cobra.Command, cfg *configSource) error {
	if a.options == nil {
		return nil
	}

	if cfg != nil {
		if err := cfg.load(cmd.Flags(), a.options); err != nil {
			return err
		}
	}
	if err := a.options.Complete(); err != nil {
		return fmt.Errorf("complete options: %w", err)
	}
	if err := a.options.Validate(); err != nil {
		return err
	}

	if p, ok := a.options.(LogOptionsProvider); ok {
		log.Init(p.LogOptions())
	}
	return nil
}

// ValidateAll aggregates the errors of several option groups.
func ValidateAll(groups ...[]error) error {
	var errs []error
	for _, g := range groups {
		errs = append(errs, g...)
	}
	return utilerrors.NewAggregate(errs)
}
