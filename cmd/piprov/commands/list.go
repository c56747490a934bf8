package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
)

var listRuns int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached images and recent provisioning runs",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listRuns, "runs", 10, "Number of recent runs to show")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.DBPath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(images) == 0 {
		fmt.Println("No images found")
	} else {
		fmt.Printf("%-50s %-10s %-12s %-10s\n", "FILENAME", "VARIANT", "STATE", "SIZE")
		fmt.Println("------------------------------------------------------------------------------------------------")
		for _, img := range images {
			size := "-"
			if img.Size > 0 {
				size = humanize.IBytes(uint64(img.Size))
			}
			fmt.Printf("%-50s %-10s %-12s %-10s\n", img.Filename, img.Variant, img.State, size)
		}
	}

	runs, err := repo.ListRuns(listRuns)
	if err != nil {
		return errors.Wrap(err, "list runs failed")
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("%-36s %-10s %-16s %-14s %-12s %s\n", "RUN", "VARIANT", "DEVICE", "HOSTNAME", "STATUS", "STARTED")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, run := range runs {
		device := run.Device
		if device == "" {
			device = "-"
		}
		fmt.Printf("%-36s %-10s %-16s %-14s %-12s %s\n",
			run.ID, run.Variant, device, run.Hostname, run.Status, run.StartedAt)
	}
	return nil
}
