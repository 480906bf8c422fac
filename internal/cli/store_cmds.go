package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/ThiagoRGoveia/desvios/internal/analysis"
	"github.com/ThiagoRGoveia/desvios/internal/export"
	"github.com/ThiagoRGoveia/desvios/internal/ingestion"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store of every configured warehouse",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, w := range a.warehouses {
		if err := a.store.EnsureInitialized(cmd.Context(), w.StoreID); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", w.Name, err)
		}
		fmt.Fprintf(out, "%s %s (%s)\n", color.New(color.FgGreen).Sprint("✓"), w.Name, w.StoreID)
	}
	return nil
}

// StatsCmd returns the stats command
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the most and least frequent deviation types of a warehouse",
		Long: `Print the most and least frequent deviation types of a warehouse.

Usage:
  desvios stats --warehouse HB3
  desvios stats --warehouse HB1/HB2 --limit 10`,
		Args: cobra.NoArgs,
		RunE: runStats,
	}

	cmd.Flags().String("warehouse", "", "Warehouse name (optional for single site deployments)")
	cmd.Flags().Int("limit", analysis.DefaultLimit, "Number of entries in each list")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("warehouse")
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.warehouse(name)
	if err != nil {
		return err
	}

	records, err := a.store.ReadAll(cmd.Context(), w.StoreID)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.Name, err)
	}
	result := analysis.AnalyzeWithLimit(records, limit)

	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	fmt.Fprintf(out, "%s %s: %d desvios\n", bold.Sprint("Galpão"), w.Name, result.Total)
	printEntries(cmd, color.New(color.FgRed).Sprint("Mais frequentes"), result.Top)
	printEntries(cmd, color.New(color.FgGreen).Sprint("Menos frequentes"), result.Bottom)
	return nil
}

func printEntries(cmd *cobra.Command, title string, entries []models.FrequencyEntry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", title)
	if len(entries) == 0 {
		fmt.Fprintln(out, "  (nenhum)")
		return
	}
	for _, e := range entries {
		label := e.Label
		if label == "" {
			label = "(sem tipo)"
		}
		fmt.Fprintf(out, "  %5d  %s\n", e.Count, label)
	}
}

// ExportCmd returns the export command
func ExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the XLSX report of a warehouse",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().String("warehouse", "", "Warehouse name (optional for single site deployments)")
	cmd.Flags().StringP("output", "o", "", "Output file (defaults to the download file name)")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("warehouse")
	output, _ := cmd.Flags().GetString("output")

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.warehouse(name)
	if err != nil {
		return err
	}

	records, err := a.store.ReadAll(cmd.Context(), w.StoreID)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.Name, err)
	}

	data, err := export.Workbook(records, w.Name)
	if errors.Is(err, export.ErrNothingToExport) {
		return fmt.Errorf("%s: %w", w.Name, err)
	}
	if err != nil {
		return err
	}

	if output == "" {
		output = export.FileName(w.Name)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	a.logger.Info("workbook exported", zap.String("warehouse", w.Name), zap.String("file", output), zap.Int("records", len(records)))
	fmt.Fprintf(cmd.OutOrStdout(), "%d desvios exportados para %s\n", len(records), output)
	return nil
}

// ImportCmd returns the import command
func ImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import legacy deviation CSV files into a warehouse store",
		Long: `Import a legacy deviation CSV file, or every .csv file under a directory,
into the store of a warehouse. Both ';' and ',' delimited files are accepted.

Files with identical content are imported once. Rows whose galpao column names
another warehouse are skipped; rows without it are attributed to --warehouse.

Usage:
  desvios import --warehouse HB3 desvios.csv
  desvios import --warehouse HB1/HB2 ./backup`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("warehouse", "", "Target warehouse (optional for single site deployments)")
	cmd.Flags().Int("workers", ingestion.DefaultParserWorkers, "Number of files parsed concurrently")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("warehouse")
	workers, _ := cmd.Flags().GetInt("workers")

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.warehouse(name)
	if err != nil {
		return err
	}

	service := ingestion.NewImportService(a.store, ingestion.NewFileProcessor(a.logger), a.logger, workers)
	summary, err := service.Execute(cmd.Context(), args[0], w)
	printSummary(cmd, summary)
	return err
}

func printSummary(cmd *cobra.Command, s models.ImportSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "arquivos: %d  duplicados: %d  com erro: %d\n", s.Files, s.Duplicates, s.Failed)
	fmt.Fprintf(out, "importados: %s  ignorados (outro galpão): %d\n",
		color.New(color.FgGreen).Sprint(s.Imported), s.Skipped)
}
