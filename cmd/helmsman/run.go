package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
	"helmsman/internal/modeltier"
	"helmsman/internal/provider"
	"helmsman/internal/session"
	"helmsman/internal/store"
	"helmsman/internal/verdict"
)

var taskType string

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Run one session per request",
	Long: `Runs one session per request argument. Sessions are fully independent:
each owns its own history, compactor, and classifier state.

The built-in executor echoes instructions without side effects; real
deployments embed the session package and plug in their own executor.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSessions,
}

func init() {
	runCmd.Flags().StringVarP(&taskType, "task", "t", "", "task type (code, web, research, files, conversational)")
	rootCmd.AddCommand(runCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		return err
	}
	tier := resolveTier()

	var journal *store.Journal
	if cfg.Store.Path != "" {
		journal, err = store.OpenJournal(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	opts := session.Options{
		TaskType:          cfg.Session.TaskType,
		MaxIterations:     cfg.Session.MaxIterations,
		Pacing:            cfg.Session.Pacing,
		GenerationTimeout: cfg.Provider.Timeout,
		WindowTokens:      cfg.Context.WindowTokens,
	}
	if taskType != "" {
		opts.TaskType = taskType
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, request := range args {
		request := request
		g.Go(func() error {
			s := session.New(prov, newExecutor(), tier, opts, journal)

			if cfg.Verdict.PolicyPath != "" {
				watcher, werr := verdict.NewPolicyWatcher(cfg.Verdict.PolicyPath, s.Classifier())
				if werr != nil {
					return werr
				}
				if werr := watcher.Start(gctx); werr != nil {
					return werr
				}
				defer watcher.Stop()
			}

			out, err := s.Run(gctx, request)
			printOutcome(request, out)
			return err
		})
	}
	return g.Wait()
}

func resolveTier() modeltier.Profile {
	if cfg.Provider.ParamCount > 0 {
		return modeltier.Resolve(cfg.Provider.ParamCount)
	}
	if cfg.Provider.ModelPath != "" {
		if p, err := modeltier.ResolveModelFile(cfg.Provider.ModelPath); err == nil {
			return p
		} else {
			logging.Get(logging.CategoryBoot).Warnw("gguf metadata unreadable, estimating from name",
				"path", cfg.Provider.ModelPath, "error", err)
		}
	}
	return modeltier.Resolve(modeltier.EstimateFromName(cfg.Provider.Model))
}

func printOutcome(request string, out *session.Outcome) {
	if out == nil {
		return
	}
	status := "completed"
	if !out.Completed {
		status = out.Reason
	}
	fmt.Printf("[%s] %q: %s after %d iterations, %d executions\n",
		out.SessionID[:8], request, status, out.Iterations, out.Executions)
}

// echoExecutor prints instructions instead of running them. Execution
// is external by design; this keeps the CLI usable standalone.
type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, in instruction.Instruction) instruction.ExecutionResult {
	fmt.Printf("  would execute: %s\n", in.String())
	return instruction.ExecutionResult{Instruction: in, Success: true, Payload: "(not executed)"}
}

func newExecutor() session.Executor {
	return echoExecutor{}
}
