package cmd

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/store"
)

var (
	jobsStatus string
	jobsLimit  int
)

var dateArg = regexp.MustCompile(`^\d{14}$`)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job ledger",
	Long:  `Read jobs recorded by the daemon from the configured store.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id|date>",
	Short: "Show one job by ID or product timestamp",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status: queued, running, aggregating, completed, failed")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to show, 0 for all")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	jobs, err := ledger.GetJobs(models.JobStatus(jobsStatus))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobsLimit > 0 && len(jobs) > jobsLimit {
		jobs = jobs[:jobsLimit]
	}

	if IsJSONOutput() {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Date", "Size", "Status", "Images", "Defects", "Quarantined", "Created")
	for _, j := range jobs {
		table.Append(
			j.Descriptor.ID,
			j.Descriptor.Timestamp,
			fmt.Sprintf("%dx%d", j.Descriptor.Width, j.Descriptor.Height),
			string(j.Status),
			fmt.Sprintf("%d", j.Images),
			fmt.Sprintf("%d", j.Defects),
			fmt.Sprintf("%d", j.Quarantined),
			j.CreatedAt.Format(time.RFC3339),
		)
	}
	table.Render()
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var job *models.Job
	if dateArg.MatchString(args[0]) {
		job, err = ledger.GetJobByDate(args[0])
	} else {
		job, err = ledger.GetJob(args[0])
	}
	if errors.Is(err, store.ErrJobNotFound) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(job)
	}
	printJob(job)
	return nil
}

func printJob(j *models.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", j.Descriptor.ID)
	table.Append("Date", j.Descriptor.Timestamp)
	table.Append("Size", fmt.Sprintf("%dx%d", j.Descriptor.Width, j.Descriptor.Height))
	table.Append("Status", string(j.Status))
	table.Append("Input", j.Descriptor.InputDir)
	table.Append("Output", j.Descriptor.OutputDir)
	table.Append("Images", fmt.Sprintf("%d", j.Images))
	table.Append("Defects", fmt.Sprintf("%d", j.Defects))
	table.Append("Quarantined", fmt.Sprintf("%d", j.Quarantined))
	if j.CSVPath != "" {
		table.Append("Results", j.CSVPath)
	}
	if j.Error != "" {
		table.Append("Error", j.Error)
	}
	table.Append("Created", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		table.Append("Started", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		table.Append("Completed", j.CompletedAt.Format(time.RFC3339))
		if j.StartedAt != nil {
			table.Append("Duration", j.CompletedAt.Sub(*j.StartedAt).Round(time.Second).String())
		}
	}
	table.Render()
}
