package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/prompt"
	"github.com/piprov/piprov/pkg/reachability"
	"github.com/piprov/piprov/pkg/security"
)

var awaitUser string

var awaitCmd = &cobra.Command{
	Use:   "await <hostname>",
	Short: "Wait for a provisioned board to answer ping",
	Args:  cobra.ExactArgs(1),
	RunE:  runAwait,
}

func init() {
	rootCmd.AddCommand(awaitCmd)
	awaitCmd.Flags().StringVarP(&awaitUser, "user", "u", "pi", "User for the printed ssh command")
}

func runAwait(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hostname := args[0]
	if err := security.ValidateHostname(hostname); err != nil {
		return errors.Wrap(err, "invalid hostname")
	}

	fmt.Printf("Waiting up to %s for %s...\n", cfg.BootTimeout, hostname)
	poller := reachability.NewPoller(reachability.CommandPinger{}, cfg.PollInterval, cfg.BootTimeout)
	res, err := poller.Await(cmd.Context(), hostname)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s is up at %s after %s (%s attempts)\n",
		res.Hostname, res.Address, res.Elapsed.Round(time.Second), humanize.Comma(int64(res.Attempts)))
	fmt.Println("  " + prompt.SSHInstructions(awaitUser, res.Hostname, res.Address))
	return nil
}
