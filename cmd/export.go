package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bancoinsights/bacen-etl/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the committed generation",
	Long:  "Writes the committed generation to an XLSX workbook or a Parquet file of long-form cells.",
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx",
	Short: "Write an XLSX workbook with one sheet per report plus derived and market sheets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		gen, err := localStore().Load(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "export xlsx")
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, fmt.Sprintf("bacen_%s.xlsx", shortID(gen.ID)))
		}
		if err := export.WriteWorkbook(gen, out, export.WorkbookOptions{MissingLabel: cfg.Export.MissingLabel}); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var exportParquetCmd = &cobra.Command{
	Use:   "parquet",
	Short: "Write every wide and derived cell as a Parquet row",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		gen, err := localStore().Load(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "export parquet")
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, fmt.Sprintf("bacen_%s.parquet", shortID(gen.ID)))
		}
		n, err := export.WriteParquet(gen, out)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d cells)\n", out, n)
		return nil
	},
}

func init() {
	exportXLSXCmd.Flags().String("out", "", "output path (default: export.dir/bacen_<generation>.xlsx)")
	exportParquetCmd.Flags().String("out", "", "output path (default: export.dir/bacen_<generation>.parquet)")
	exportCmd.AddCommand(exportXLSXCmd, exportParquetCmd)
	rootCmd.AddCommand(exportCmd)
}
