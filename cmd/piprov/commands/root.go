package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/piprov/piprov/internal/config"
	"github.com/piprov/piprov/pkg/errors"
)

var rootCmd = &cobra.Command{
	Use:   "piprov",
	Short: "Provision Raspberry Pi SD cards",
	Long: `Resolves, downloads and verifies a Raspberry Pi OS image, writes it to the
single removable card attached to this machine, injects first-boot
configuration and optionally waits for the board to come online.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetBool("verbose"), viper.GetString("log-format"))
	},
}

// Execute runs the command tree and reports any error once, with its hint.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("cache-dir", "/var/cache/piprov", "Image cache directory")
	flags.String("db-path", "/var/lib/piprov/piprov.db", "SQLite database path")
	flags.String("fsm-db-path", "/var/lib/piprov/fsm", "FSM BoltDB path")
	flags.String("mount-dir", "/mnt/piprov", "Where card partitions are mounted")
	flags.String("variant", "lite", "Image flavor: lite or full")
	flags.String("arch", "64", "Image architecture: 64 or 32")
	flags.String("catalog-url", "https://downloads.raspberrypi.com", "Vendor download site")
	flags.String("mirror", "", "Image mirror (s3://bucket/prefix or http(s) base) overriding the vendor")
	flags.String("s3-region", "us-east-1", "S3 region of the mirror")
	flags.Int64("min-device-size", config.DefaultMinDeviceSize, "Minimum card capacity in bytes")
	flags.Int64("min-cache-free", config.DefaultMinCacheFree, "Minimum free cache space in bytes")
	flags.Int64("max-image-size", 64*config.GiB, "Max decompressed image size in bytes")
	flags.Float64("max-compression-ratio", 20.0, "Max compression ratio")
	flags.String("block-size", "4M", "dd block size")
	flags.String("probe-target", "8.8.8.8", "Address pinged to detect network access")
	flags.Duration("probe-timeout", 2*time.Second, "Network probe timeout")
	flags.Duration("poll-interval", 5*time.Second, "Boot poll interval")
	flags.Duration("boot-timeout", 20*time.Minute, "How long to wait for the board")
	flags.Bool("wait-for-boot", false, "Wait for the board after provisioning without asking")
	flags.Bool("verbose", false, "Debug logging")
	flags.String("log-format", "text", "Log format: text or json")

	for _, name := range []string{
		"cache-dir", "db-path", "fsm-db-path", "mount-dir", "variant", "arch",
		"catalog-url", "mirror", "s3-region", "min-device-size", "min-cache-free",
		"max-image-size", "max-compression-ratio", "block-size", "probe-target",
		"probe-timeout", "poll-interval", "boot-timeout", "wait-for-boot",
		"verbose", "log-format",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
