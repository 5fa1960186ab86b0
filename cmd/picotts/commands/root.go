package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/picotts/cmd/picotts/internal/config"
	"github.com/haivivi/picotts/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	formatOutput string

	// Global configuration (loaded on first use)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "picotts",
	Short: "Offline text-to-speech with the SVOX Pico engine",
	Long: `picotts - speak text with the SVOX Pico engine.

Voices are built from a text-analysis (ta) and a speech-generation (sg)
language file. Files can live on local disk or in an S3 bucket; see
'picotts config show' for the active settings.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/picotts/config.yaml
  Linux:   ~/.config/picotts/config.yaml
  Windows: %AppData%/picotts/config.yaml

Examples:
  # Speak to a file
  picotts say -o hello.wav "Hello, world"

  # Synthesize a batch described in a request file
  picotts say -f batch.yaml

  # Serve synthesis over HTTP
  picotts serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the OS config directory)")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "table", "output format: table, yaml, json")
}

// GetConfig returns the configuration, loading it on first use.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// stylesFor colors output only on the process's own terminal streams.
func stylesFor(w io.Writer) cli.Styles {
	if w == os.Stdout || w == os.Stderr {
		return cli.NewStyles(cli.DefaultTheme)
	}
	return cli.PlainStyles()
}

func printer(cmd *cobra.Command) *cli.Printer {
	return newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func newPrinter(out, errw io.Writer) *cli.Printer {
	return &cli.Printer{Out: out, Err: errw, Styles: stylesFor(errw), Verbose: verbose}
}

// output prints a result in the --format the user chose.
func output(cmd *cobra.Command, result any) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	st := stylesFor(cmd.OutOrStdout())
	return cli.Output(result, cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout(), Styles: &st})
}
