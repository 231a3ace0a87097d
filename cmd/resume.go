package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var resumeOpts driveOptions

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Continue a run, or the most recent unfinished one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var runID string
		if len(args) == 1 {
			runID = args[0]
		}
		m, err := pipeline.Restore(ctx, env.Store, runID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if m == nil {
			if runID != "" {
				return eris.Errorf("run %s not found", runID)
			}
			_, _ = fmt.Fprintln(out, "no unfinished run to resume")
			return nil
		}
		zap.L().Info("run restored", zap.String("run_id", m.RunID()), zap.String("stage", string(m.Stage())))

		runErr := drive(ctx, env.Runner, m, resumeOpts, out)
		printSummary(out, m.Snapshot())
		if runErr != nil {
			return reportError(cmd.ErrOrStderr(), eris.Wrap(runErr, "resume"))
		}
		return nil
	},
}

func init() {
	addDriveFlags(resumeCmd, &resumeOpts)
	rootCmd.AddCommand(resumeCmd)
}
