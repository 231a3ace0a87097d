package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var runOpts driveOptions

var runCmd = &cobra.Command{
	Use:   "run <input.json>",
	Short: "Start a run from a demand/supply/matches file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := pipeline.LoadInput(args[0])
		if err != nil {
			return err
		}

		env, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		m, err := env.Runner.Start(ctx, in)
		if m != nil {
			zap.L().Info("run started", zap.String("run_id", m.RunID()))
		}
		if err != nil {
			if m != nil {
				printSummary(out, m.Snapshot())
			}
			return reportError(cmd.ErrOrStderr(), err)
		}

		runErr := drive(ctx, env.Runner, m, runOpts, out)
		printSummary(out, m.Snapshot())
		if runErr != nil {
			return reportError(cmd.ErrOrStderr(), eris.Wrap(runErr, "run"))
		}
		return nil
	},
}

func init() {
	addDriveFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

func addDriveFlags(cmd *cobra.Command, o *driveOptions) {
	cmd.Flags().BoolVar(&o.ConfirmEnrich, "confirm-enrich", false, "spend enrichment credits on records without an email")
	cmd.Flags().BoolVar(&o.ConfirmSend, "confirm-send", false, "push composed intros to the campaign provider")
	cmd.Flags().BoolVar(&o.Regenerate, "regenerate", false, "discard composed intros and compose them again before sending")
}
