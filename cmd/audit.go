package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gestk/legacy-etl/internal/directory"
	"github.com/gestk/legacy-etl/internal/jobs"
	"github.com/gestk/legacy-etl/internal/ownership"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check contract coverage for overlaps and gaps",
	Long: `Builds the ownership map from the contract directory and reports every
overlap between different firms and every coverage gap longer than the
threshold. Findings never fail the command unless --strict is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		strict, _ := cmd.Flags().GetBool("strict")
		gapDays, _ := cmd.Flags().GetInt("gap-days")
		if gapDays <= 0 {
			gapDays = cfg.Resolver.GapThresholdDays
		}

		pool, err := targetPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// The audit only reads the map; no legacy lookups happen.
		resolver := newResolver(directory.New(pool), nil)
		rep, err := jobs.Audit(ctx, resolver, gapDays)
		if err != nil {
			return eris.Wrap(err, "audit")
		}
		rep.Print(os.Stdout)

		if xlsxPath != "" {
			if err := ownership.WriteFindingsXLSX(xlsxPath, rep.Findings); err != nil {
				return err
			}
			zap.L().Info("findings written", zap.String("path", xlsxPath), zap.Int("count", len(rep.Findings)))
		}

		if strict && len(rep.Findings) > 0 {
			return eris.Errorf("audit: %d findings", len(rep.Findings))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().String("xlsx", "", "also write findings to this .xlsx workbook")
	auditCmd.Flags().Bool("strict", false, "exit non-zero when there are findings")
	auditCmd.Flags().Int("gap-days", 0, "gap threshold in days (default from config)")
	rootCmd.AddCommand(auditCmd)
}
