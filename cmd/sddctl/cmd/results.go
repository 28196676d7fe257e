package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/pkg/results"
)

var renameFlags struct {
	csv string
	out string
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Work with result tables",
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <csv>",
	Short: "Summarize a result table",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var renameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Mark defect images of a finished job with the _x suffix",
	Long: `Read a result table and rename every image flagged as a defect under
the output directory. Files already renamed are left alone, so the command
can be repeated.`,
	Args: cobra.NoArgs,
	RunE: runRename,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	rootCmd.AddCommand(renameCmd)
	renameCmd.Flags().StringVar(&renameFlags.csv, "csv", "", "result table")
	renameCmd.Flags().StringVar(&renameFlags.out, "out", "", "job output directory")
	_ = renameCmd.MarkFlagRequired("csv")
	_ = renameCmd.MarkFlagRequired("out")
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	records, err := results.ReadCSV(args[0])
	if err != nil {
		return err
	}
	summary := results.Summarize(records)

	if IsJSONOutput() {
		return printJSON(summary)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rows", "Normal", "Defects", "Quarantined")
	table.Append(
		fmt.Sprintf("%d", summary.Total),
		fmt.Sprintf("%d", summary.Normal),
		fmt.Sprintf("%d", summary.Defects),
		fmt.Sprintf("%d", summary.Quarantined),
	)
	table.Render()

	if len(summary.PerCamera) == 0 {
		return nil
	}
	cams := make([]int, 0, len(summary.PerCamera))
	for cam := range summary.PerCamera {
		cams = append(cams, cam)
	}
	sort.Ints(cams)

	perCam := tablewriter.NewWriter(os.Stdout)
	perCam.Header("Camera", "Defects")
	for _, cam := range cams {
		perCam.Append(fmt.Sprintf("%d", cam), fmt.Sprintf("%d", summary.PerCamera[cam]))
	}
	perCam.Render()
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "rename")

	stats, err := results.NewRenamer(logger).Rename(context.Background(), renameFlags.csv, renameFlags.out)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(stats)
	}
	fmt.Printf("Renamed %d file(s) from %d result rows\n", stats.Renamed, stats.Total)
	return nil
}
