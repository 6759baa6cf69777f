package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/ragent/internal/config"
	"github.com/harun/ragent/internal/render"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	logLevel string
	verbose  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ragent",
	Short: "ragent - send a task to a local or hosted LLM from the shell",
	Long: `ragent sends a single task to a configured LLM backend and prints the answer.
Piped standard input becomes context, --image attaches a picture for vision
models and --session keeps a named conversation across invocations.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBanner,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ragent version %s\n", version)
	},
}

// Execute runs the root command with SIGINT and SIGTERM bound to its
// context and prints any error to stderr. This is called by main.main().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		render.New(ctx, render.Options{Err: rootCmd.ErrOrStderr()}).Error(err)
	}
	return err
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error); default from settings (info)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror logs to stderr")

	rootCmd.AddCommand(versionCmd)

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// runBanner prints the logo with the number of backend configs and sessions.
func runBanner(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	files, err := config.NewDescriptorStore(a.cfg.ConfigDir).List()
	if err != nil {
		return err
	}

	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	a.renderer(cmd).Banner(cmd.OutOrStdout(), len(files), len(infos))
	return nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
