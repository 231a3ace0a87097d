package main

import (
	"bufio"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/export"
)

var (
	exportOut    string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export composed intros and send outcomes as CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.Load(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if snap == nil {
			return eris.Errorf("run %s not found", args[0])
		}

		format := export.Format(exportFormat)
		if format == "" {
			format = export.FormatFor(exportOut)
		}
		rows := export.Rows(snap)

		if exportOut == "" || exportOut == "-" {
			return export.Write(cmd.OutOrStdout(), format, rows)
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", exportOut)
		}
		bw := bufio.NewWriter(f)
		if err := export.Write(bw, format, rows); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "export: flush")
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "export: close")
		}

		zap.L().Info("export written",
			zap.String("run_id", snap.RunID),
			zap.String("path", exportOut),
			zap.String("format", string(format)),
			zap.Int("rows", len(rows)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv or xlsx (default from --out extension)")
	rootCmd.AddCommand(exportCmd)
}
