// Package fsm implements the provisioning finite state machine workflow.
// It orchestrates image resolution, fetch, device confirmation, the write,
// partition configuration and the optional boot wait using the superfly/fsm
// library.
package fsm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/superfly/fsm"

	"github.com/piprov/piprov/pkg/catalog"
	"github.com/piprov/piprov/pkg/configurator"
	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/guard"
	"github.com/piprov/piprov/pkg/reachability"
	"github.com/piprov/piprov/pkg/writer"
)

// Resolver picks the image source for a variant.
type Resolver interface {
	Resolve(ctx context.Context, v catalog.Variant) (catalog.ImageSource, error)
}

// ImageCache provides decompressed images.
type ImageCache interface {
	Dir() string
	Cached(src catalog.ImageSource) (string, bool)
	EnsureLocalImage(ctx context.Context, src catalog.ImageSource) (string, error)
}

// DeviceGuard enforces device and disk preconditions.
type DeviceGuard interface {
	Detect(ctx context.Context) (*guard.TargetDevice, error)
	CheckCacheSpace(dir string) error
	Confirm(ctx context.Context, target *guard.TargetDevice) error
	EnsureUnmounted(ctx context.Context, target *guard.TargetDevice) error
}

// ImageWriter writes an image to a device.
type ImageWriter interface {
	Write(ctx context.Context, imagePath, device string, confirmed bool) (*writer.Result, error)
}

// PartitionConfigurator injects configuration into a written card.
type PartitionConfigurator interface {
	Configure(ctx context.Context, parts configurator.Partitions, rec configurator.Record) (*configurator.Result, error)
}

// BootPoller waits for the provisioned host.
type BootPoller interface {
	Await(ctx context.Context, hostname string) (*reachability.Result, error)
}

// RunStore records provisioning run history.
type RunStore interface {
	CreateRun(run *db.Run) error
	UpdateRunTarget(id, device, hostname string) error
	FinishRun(id, status, errorMessage, address string) error
}

// Deps are the collaborators of the provisioning machine.
type Deps struct {
	Preflight    func(ctx context.Context) error
	Resolver     Resolver
	Cache        ImageCache
	Guard        DeviceGuard
	Writer       ImageWriter
	Configurator PartitionConfigurator
	Poller       BootPoller
	Runs         RunStore
}

// run is the in-memory state of one provisioning run. None of it goes
// through the FSM store.
type run struct {
	id        string
	record    configurator.Record
	source    catalog.ImageSource
	target    *guard.TargetDevice
	confirmed bool
	err       error
	resp      ProvisionResponse
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	deps Deps

	mu  sync.Mutex
	run *run
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(deps Deps) *Machine {
	return &Machine{deps: deps, run: &run{}}
}

// Register registers the provisioning FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ProvisionRequest, ProvisionResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ProvisionRequest, ProvisionResponse](manager, "provision").
		Start(StatePreflight, m.handlePreflight).
		To(StateResolve, m.handleResolve).
		To(StateFetch, m.handleFetch).
		To(StateConfirm, m.handleConfirm).
		To(StateWrite, m.handleWrite).
		To(StateConfigure, m.handleConfigure).
		To(StateAwaitBoot, m.handleAwaitBoot).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Provision runs the machine to completion for req. rec stays in memory and
// only reaches disk inside the rendered configuration file. The returned
// error is the first fatal error raised by a transition.
func (m *Machine) Provision(
	ctx context.Context,
	manager *fsm.Manager,
	start fsm.Start[ProvisionRequest, ProvisionResponse],
	req *ProvisionRequest,
	rec configurator.Record,
) (*ProvisionResponse, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Hostname == "" {
		req.Hostname = rec.Hostname
	}

	m.mu.Lock()
	m.run = &run{id: req.RunID, record: rec}
	m.mu.Unlock()
	defer m.release()

	if m.deps.Runs != nil {
		if err := m.deps.Runs.CreateRun(&db.Run{
			ID:       req.RunID,
			Variant:  req.Flavor + "/" + req.Arch,
			Hostname: req.Hostname,
			Status:   db.RunRunning,
		}); err != nil {
			slog.Warn("run_record_failed", "run_id", req.RunID, "error", err)
		}
	}

	resp := &ProvisionResponse{}
	version, err := start(ctx, req.RunID, fsm.NewRequest(req, resp))
	if err != nil {
		err = errors.Wrap(err, "FSM start failed")
		m.finishRun(ctx, req.RunID, resp, err)
		return resp, err
	}
	slog.Info("fsm_started", "run_id", req.RunID, "version", version)

	waitErr := manager.Wait(ctx, version)

	out, runErr := m.result()
	if runErr == nil && waitErr != nil {
		runErr = errors.Wrap(waitErr, "FSM execution failed")
	}
	m.finishRun(ctx, req.RunID, out, runErr)
	return out, runErr
}

// Discard resumes every run left pending in the FSM store by an earlier
// process. None of them belongs to this process, so each one aborts on its
// next transition and is recorded as interrupted. Call it after Register and
// before Provision.
func (m *Machine) Discard(ctx context.Context, resume fsm.Resume) error {
	if err := resume(ctx); err != nil {
		return errors.Wrap(err, "failed to resume stale runs")
	}
	return nil
}

// release drops the record and disowns the run once Provision returns.
func (m *Machine) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.id = ""
	m.run.record = configurator.Record{}
}

// claim lets only the run started by Provision through. Runs handed back by
// the store on resume were started by another process and are aborted.
func (m *Machine) claim(state string, req *request) error {
	m.mu.Lock()
	owner := m.run.id
	m.mu.Unlock()
	if owner != "" && req.Msg.RunID == owner {
		return nil
	}

	slog.Warn("fsm_stale_run_discarded", "run_id", req.Msg.RunID, "state", state)
	if m.deps.Runs != nil {
		if err := m.deps.Runs.FinishRun(req.Msg.RunID, db.RunInterrupted, "discarded: left pending by an interrupted process", ""); err != nil {
			slog.Warn("run_record_failed", "run_id", req.Msg.RunID, "error", err)
		}
	}
	return fsm.Abort(fmt.Errorf("run %s is not owned by this process", req.Msg.RunID))
}

func (m *Machine) result() (*ProvisionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.run.resp
	return &out, m.run.err
}

// save publishes resp as the latest known state of the run.
func (m *Machine) save(resp *ProvisionResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.resp = *resp
}

// abort records the first fatal error and stops the machine.
func (m *Machine) abort(state string, resp *ProvisionResponse, err error) error {
	m.mu.Lock()
	if m.run.err == nil {
		m.run.err = err
	}
	m.mu.Unlock()

	slog.Error("fsm_state_failed", "state", state, "error", err)
	if resp != nil {
		resp.Status = db.RunFailed
		resp.ErrorMessage = err.Error()
		m.save(resp)
	}
	return fsm.Abort(err)
}

func (m *Machine) finishRun(ctx context.Context, id string, resp *ProvisionResponse, err error) {
	if m.deps.Runs == nil {
		return
	}
	status := runStatus(ctx, err)
	var msg string
	if err != nil {
		msg = err.Error()
	} else if resp.BootTimeout {
		msg = resp.ErrorMessage
	}
	if ferr := m.deps.Runs.FinishRun(id, status, msg, resp.Address); ferr != nil {
		slog.Warn("run_record_failed", "run_id", id, "error", ferr)
	}
}

func runStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return db.RunSucceeded
	case stderrors.Is(err, errors.ErrInterrupted) || ctx.Err() != nil:
		return db.RunInterrupted
	case stderrors.Is(err, errors.ErrDeclined):
		return db.RunDeclined
	default:
		return db.RunFailed
	}
}
