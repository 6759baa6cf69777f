package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/ragent/internal/config"
	"github.com/harun/ragent/internal/render"
	"github.com/harun/ragent/pkg/agent"
	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/ingest"
	"github.com/harun/ragent/pkg/session"
	"github.com/spf13/cobra"
)

var (
	runConfig   string
	runSession  string
	runImage    string
	runPlan     string
	runNoStream bool
	runNoTools  bool
	runTimeout  time.Duration
	runWindow   int
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Send a task to a backend and print the answer",
	Long: `Send a task to the backend named by --config and print the answer to stdout.

Anything piped on stdin is attached as context, capped at context.max_bytes.
With --session the exchange is appended to a named conversation and the
recent history is sent along with the next task.

The model may call read-only tools (list_dir, read_file, ripgrep, git_diff
and others) confined to the working directory, for at most
dispatch.max_tool_rounds rounds. Only its final answer is kept.`,
	Example: `  git diff | ragent run "review this change" --config lmstudio/qwen3-8b
  ragent run "what is on this screen?" --config lmstudio/qwen3-vl-8b --image shot.png
  ragent run "now in French" --config openai_gpt-4o-mini --session notes`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "", "backend config name or file (required)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "session name for conversation continuity")
	runCmd.Flags().StringVarP(&runImage, "image", "i", "", "image path, URL or data URL")
	runCmd.Flags().StringVar(&runPlan, "plan", "", "extra instructions appended to the system prompt")
	runCmd.Flags().BoolVar(&runNoStream, "no-stream", false, "wait for the whole answer before printing")
	runCmd.Flags().BoolVar(&runNoTools, "no-tools", false, "do not offer the read-only tools to the model")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "dispatch timeout (default from settings)")
	runCmd.Flags().IntVar(&runWindow, "window", -1, "prior exchanges to send, 0 for all (default from settings)")
	_ = runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	task := args[0]

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	desc, err := config.NewDescriptorStore(a.cfg.ConfigDir).Load(runConfig)
	if err != nil {
		return err
	}
	for _, w := range config.NewValidator().ValidateDescriptor(desc) {
		a.logger.Warn().Err(w).Str("config", desc.Name).Msg("Suspicious backend config")
	}

	b, err := backend.NewResolver().Resolve(desc, runImage != "")
	if err != nil {
		return err
	}

	out := a.renderer(cmd)
	if rounds := a.cfg.Dispatch.MaxToolRounds; !runNoTools && rounds > 0 {
		box, err := a.toolbox(out)
		if err != nil {
			return err
		}
		b = backend.WithTools(b, box, rounds)
	}

	store := session.Discard
	if runSession != "" {
		if err := session.ValidateName(runSession); err != nil {
			return err
		}
		store, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	timeout := a.cfg.Dispatch.Timeout
	if runTimeout > 0 {
		timeout = runTimeout
	}
	window := session.WindowPolicy{
		MaxExchanges: a.cfg.Window.MaxExchanges,
		MaxBytes:     a.cfg.Window.MaxBytes,
	}
	if runWindow >= 0 {
		window.MaxExchanges = runWindow
	}

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Timeout:       timeout,
		ForceBuffered: runNoStream || !a.cfg.Dispatch.Stream,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})

	runner, err := agent.NewRunner(agent.Config{
		Ingestor:   ingest.New(a.cfg.Context.MaxBytes),
		Store:      store,
		Dispatcher: dispatcher,
		Window:     window,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}

	out.SetIncremental(dispatcher.Incremental(b))

	_, err = runner.Run(ctx, agent.RunParams{
		Task:     task,
		Session:  runSession,
		Backend:  b,
		ImageRef: runImage,
		Plan:     runPlan,
		Stdin:    cmd.InOrStdin(),
		Sink:     out,
		OnState: func(s agent.State, res agent.RunResult) {
			if s != agent.StateRequestBuilt {
				return
			}
			out.Header(render.Header{
				Task:         task,
				Config:       runConfig,
				Image:        runImage,
				Session:      runSession,
				History:      res.History,
				ContextChars: res.Blob.Chars,
				ContextBytes: res.Blob.Bytes,
				Truncated:    res.Blob.Truncated,
			})
		},
	})
	if ferr := out.Finish(); ferr != nil && err == nil {
		err = ferr
	}
	if errors.Is(err, session.ErrPersistFailed) {
		out.Warn(fmt.Sprintf("response shown but session '%s' was NOT saved", runSession))
	}
	return err
}
