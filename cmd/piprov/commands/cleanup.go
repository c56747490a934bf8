package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piprov/piprov/pkg/cache"
	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/lifecycle"
	"github.com/piprov/piprov/pkg/security"
)

var (
	cleanupAll      bool
	cleanupImage    string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached images",
	Long: `Remove images from the cache:
  --all                Remove every cached image
  --image <filename>   Remove one cached image
  --orphaned           Remove leftovers not tracked in the database`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove all cached images")
	cleanupCmd.Flags().StringVar(&cleanupImage, "image", "", "Remove a specific image by filename")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove untracked and partial files")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg.DBPath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	validator := security.NewValidator(cfg.MaxImageSize, cfg.MaxCompressionRatio)
	pipeline := cache.NewPipeline(cfg.CacheDir, nil, validator, lifecycle.NewLedger())

	switch {
	case cleanupAll:
		return cleanupAllImages(repo, pipeline)
	case cleanupImage != "":
		return cleanupOne(repo, pipeline, cleanupImage)
	case cleanupOrphaned:
		return cleanupOrphans(repo, pipeline)
	default:
		return fmt.Errorf("must specify --all, --image, or --orphaned")
	}
}

func cleanupAllImages(repo *db.Repository, pipeline *cache.Pipeline) error {
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d images...\n", len(images))
	for _, img := range images {
		if err := cleanupOne(repo, pipeline, img.Filename); err != nil {
			fmt.Printf("  failed to clean %s: %v\n", img.Filename, err)
		}
	}
	return cleanupOrphans(repo, pipeline)
}

func cleanupOne(repo *db.Repository, pipeline *cache.Pipeline, filename string) error {
	removed, err := pipeline.RemoveImage(filename)
	if err != nil {
		return err
	}
	if err := repo.DeleteImage(filename); err != nil {
		return errors.Wrap(err, "failed to delete record")
	}
	if removed {
		fmt.Printf("  removed %s\n", filename)
	} else {
		fmt.Printf("  %s was not cached\n", filename)
	}
	return nil
}

func cleanupOrphans(repo *db.Repository, pipeline *cache.Pipeline) error {
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	keep := make(map[string]bool, len(images))
	for _, img := range images {
		keep[img.Path] = true
	}

	orphans, err := pipeline.Orphans(keep)
	if err != nil {
		return err
	}
	for _, path := range orphans {
		if err := pipeline.RemovePath(path); err != nil {
			fmt.Printf("  failed to remove %s: %v\n", path, err)
			continue
		}
		fmt.Printf("  removed orphan %s\n", path)
	}
	fmt.Printf("Removed %d orphaned files\n", len(orphans))
	return nil
}
