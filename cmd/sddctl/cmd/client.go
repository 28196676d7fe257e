package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/pkg/api"
	"github.com/psantana5/sdd-inspector/pkg/models"
)

var (
	apiURL     string
	allMetrics bool

	productFlags api.JobRequest
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is working on a job",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Announce the product the next line signal belongs to",
	Args:  cobra.NoArgs,
	RunE:  runProduct,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a job on the running daemon without a line signal",
	Args:  cobra.NoArgs,
	RunE:  runSubmit,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the daemon's Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, productCmd, submitCmd, metricsCmd} {
		c.Flags().StringVar(&apiURL, "api", "", "daemon API URL (default from api.addr)")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{productCmd, submitCmd} {
		c.Flags().StringVar(&productFlags.Date, "date", "", "product timestamp YYYYMMDDHHMMSS")
		c.Flags().IntVar(&productFlags.Width, "width", 0, "stand width")
		c.Flags().IntVar(&productFlags.Height, "height", 0, "stand height")
		_ = c.MarkFlagRequired("date")
		_ = c.MarkFlagRequired("width")
		_ = c.MarkFlagRequired("height")
	}
	submitCmd.Flags().StringVar(&productFlags.InputDir, "in-path", "", "staging directory (default resolved by the daemon)")
	submitCmd.Flags().StringVar(&productFlags.OutputDir, "out-path", "", "output directory (default resolved by the daemon)")
	submitCmd.Flags().BoolVar(&productFlags.SaveVisual, "save-visual", false, "write defect overlays")
	submitCmd.Flags().IntVar(&productFlags.FMLength, "fm-length", 0, "fm_length forwarded with the result")
	metricsCmd.Flags().BoolVar(&allMetrics, "all", false, "include Go runtime and process metrics")
}

// baseURL resolves --api, falling back to the configured listen address
func baseURL() (string, error) {
	if apiURL != "" {
		return strings.TrimRight(apiURL, "/"), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	addr := cfg.API.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

// doRequest sends an authenticated request and returns the body of a 2xx response
func doRequest(method, path string, body interface{}) ([]byte, error) {
	base, err := baseURL()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg, err := loadConfig(); err == nil && cfg.API.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.API.APIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon at %s: %w", base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	data, err := doRequest("GET", "/status", nil)
	if err != nil {
		return err
	}
	var status api.StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(status)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Working", fmt.Sprintf("%t", status.Working))
	table.Append("Current job", status.CurrentJob)
	table.Append("Queue length", fmt.Sprintf("%d", status.QueueLength))
	table.Append("Images processed", fmt.Sprintf("%d", status.Progress))
	table.Render()
	return nil
}

func runProduct(cmd *cobra.Command, args []string) error {
	_, err := doRequest("POST", "/product", api.ProductRequest{
		Date:   productFlags.Date,
		Height: productFlags.Height,
		Width:  productFlags.Width,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Product %s (%dx%d) pending, waiting for line signal\n", productFlags.Date, productFlags.Width, productFlags.Height)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := doRequest("POST", "/jobs", productFlags)
	if err != nil {
		return err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(job)
	}
	fmt.Printf("✓ Job %s queued\n", job.Descriptor.ID)
	return nil
}

func runMetrics(cmd *cobra.Command, args []string) error {
	data, err := doRequest("GET", "/metrics", nil)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if allMetrics || strings.Contains(line, "sdd_") {
			fmt.Println(line)
		}
	}
	return scanner.Err()
}
