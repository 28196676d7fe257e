package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/internal/hardware"
	"github.com/psantana5/sdd-inspector/internal/vision"
)

var hardwareCmd = &cobra.Command{
	Use:   "hardware",
	Short: "Show CPU, memory, storage and GPU inventory",
	Long: `Detect the host hardware and compare it with the camera group table:
every group's GPU index must exist and the storage roots must be mounted.`,
	Args: cobra.NoArgs,
	RunE: runHardware,
}

func init() {
	rootCmd.AddCommand(hardwareCmd)
}

func runHardware(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	info := hardware.NewDetector().Detect(context.Background(), cfg.Paths.InputRoot, cfg.Paths.OutputRoot)

	if IsJSONOutput() {
		return printJSON(info)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Hostname", info.Hostname)
	table.Append("Platform", fmt.Sprintf("%s (%s/%s)", info.Platform, info.OS, info.Arch))
	table.Append("CPU", info.CPUModel)
	table.Append("Threads", fmt.Sprintf("%d", info.CPUThreads))
	table.Append("RAM", fmt.Sprintf("%.1f GB (%.1f GB available)", gb(info.RAMBytes), gb(info.RAMFree)))
	table.Append("OpenCV", fmt.Sprintf("%t", vision.OpenCVAvailable))
	table.Append("Worker pool", fmt.Sprintf("%d", cfg.WorkerSettings().PoolSize()))
	table.Render()

	if len(info.Disks) > 0 {
		disks := tablewriter.NewWriter(os.Stdout)
		disks.Header("Path", "Total", "Free", "Used")
		for _, d := range info.Disks {
			disks.Append(d.Path, fmt.Sprintf("%.1f GB", gb(d.TotalBytes)), fmt.Sprintf("%.1f GB", gb(d.FreeBytes)), fmt.Sprintf("%.1f%%", d.UsedPercent))
		}
		disks.Render()
	}

	groupsOn := make(map[int][]string)
	for _, g := range cfg.CameraGroups {
		groupsOn[g.GPU] = append(groupsOn[g.GPU], g.Name)
	}
	if len(info.GPUs) == 0 {
		fmt.Println("No NVIDIA GPU detected")
		return nil
	}
	gpus := tablewriter.NewWriter(os.Stdout)
	gpus.Header("GPU", "Name", "Memory", "Groups")
	for _, g := range info.GPUs {
		gpus.Append(fmt.Sprintf("%d", g.Index), g.Name, fmt.Sprintf("%d MB", g.MemoryMB), fmt.Sprintf("%v", groupsOn[g.Index]))
	}
	gpus.Render()
	return nil
}

func gb(bytes uint64) float64 {
	return float64(bytes) / (1024 * 1024 * 1024)
}
