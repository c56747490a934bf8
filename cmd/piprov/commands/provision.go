package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/piprov/piprov/internal/config"
	"github.com/piprov/piprov/pkg/blockdev"
	"github.com/piprov/piprov/pkg/cache"
	"github.com/piprov/piprov/pkg/configurator"
	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
	piprovfsm "github.com/piprov/piprov/pkg/fsm"
	"github.com/piprov/piprov/pkg/guard"
	"github.com/piprov/piprov/pkg/lifecycle"
	"github.com/piprov/piprov/pkg/prereq"
	"github.com/piprov/piprov/pkg/prompt"
	"github.com/piprov/piprov/pkg/reachability"
	"github.com/piprov/piprov/pkg/security"
	"github.com/piprov/piprov/pkg/writer"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Write and configure a Raspberry Pi OS card",
	Long: `Runs the whole pipeline: resolve the image, fetch and verify it into the
cache, confirm the single removable device, write it, inject first-boot
configuration and optionally wait for the board to answer ping.`,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

// interactive maps an aborted form to an operator interrupt.
func interactive(err error) error {
	if stderrors.Is(err, huh.ErrUserAborted) {
		return errors.Aborted(errors.ErrInterrupted, "")
	}
	return err
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !isRoot() {
		return errors.Precondition(errors.ErrNotRoot, "", nil).
			WithHint("run piprov with sudo")
	}
	if err := ensureDirectories(cfg.DBPath, cfg.FSMDBPath, cfg.CacheDir, cfg.MountDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	devices, err := blockdev.NewManager()
	if err != nil {
		return errors.Precondition(errors.ErrMissingTool, "blockdev", err)
	}

	prompt.Banner(os.Stdout, cfg.Variant+"/"+cfg.Arch, cfg.CacheDir)

	rec, err := prompt.AskRecord(ctx, prompt.Answers{
		Hostname:    cfg.Hostname,
		Username:    cfg.Username,
		WifiSSID:    cfg.WifiSSID,
		WifiCountry: cfg.WifiCountry,
		Keymap:      cfg.Keymap,
		Timezone:    cfg.Timezone,
	})
	if err != nil {
		return interactive(err)
	}

	waitForBoot := cfg.WaitForBoot
	if !waitForBoot {
		if waitForBoot, err = prompt.AskWaitForBoot(ctx); err != nil {
			return interactive(err)
		}
	}

	ledger := lifecycle.NewLedger()
	supervisor := lifecycle.NewSupervisor(ledger, devices, afero.NewOsFs())

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	machine := piprovfsm.NewMachine(piprovfsm.Deps{
		Preflight: func(context.Context) error {
			return prereq.Check(prereq.DefaultTools()).Err()
		},
		Resolver: newResolver(cfg, fetcher),
		Cache: cache.NewPipeline(cfg.CacheDir, fetcher,
			security.NewValidator(cfg.MaxImageSize, cfg.MaxCompressionRatio), ledger,
			cache.WithIndex(repo)),
		Guard: guard.New(devices, devices, guard.StatfsChecker{}, prompt.DeviceConfirmer{},
			cfg.MinDeviceSize, cfg.MinCacheFree),
		Writer:       writer.NewEngine(writer.DDWriter{BlockSize: cfg.BlockSize}, ledger),
		Configurator: configurator.New(devices, ledger, nil, cfg.MountDir),
		Poller:       reachability.NewPoller(reachability.CommandPinger{}, cfg.PollInterval, cfg.BootTimeout),
		Runs:         repo,
	})

	var resp *piprovfsm.ProvisionResponse
	err = supervisor.Run(ctx, func(ctx context.Context) error {
		resp, err = provision(ctx, cfg, machine, rec, waitForBoot)
		return err
	})
	if err != nil {
		return err
	}

	if resp.BootTimeout {
		prompt.Warn(os.Stdout, resp.ErrorMessage)
	}
	prompt.PrintSummary(os.Stdout, prompt.Summary{
		Device:   resp.Device,
		Image:    fmt.Sprintf("%s (%s)", resp.ImageFilename, resp.OSName),
		Hostname: rec.Hostname,
		Username: rec.Username,
		Address:  resp.Address,
		Waited:   waitForBoot,
	})
	return nil
}

// provision runs the state machine. The manager is shut down before the
// supervisor's cleanup pass starts.
func provision(ctx context.Context, cfg *config.Config, machine *piprovfsm.Machine, rec configurator.Record, waitForBoot bool) (*piprovfsm.ProvisionResponse, error) {
	manager, err := fsm.New(fsm.Config{
		DBPath: cfg.FSMDBPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "FSM init failed")
	}
	defer manager.Shutdown(10 * time.Second)

	start, resume, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	if err := machine.Discard(ctx, resume); err != nil {
		slog.Warn("fsm_stale_runs_not_discarded", "error", err)
	}

	resp, err := machine.Provision(ctx, manager, start, &piprovfsm.ProvisionRequest{
		Flavor:      cfg.Variant,
		Arch:        cfg.Arch,
		Hostname:    rec.Hostname,
		WaitForBoot: waitForBoot,
	}, rec)
	if err != nil {
		return nil, err
	}
	slog.Info("provision_complete", "image", resp.ImageFilename, "device", resp.Device, "bytes", resp.BytesWritten)
	return resp, nil
}
