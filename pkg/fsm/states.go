package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"

	"github.com/piprov/piprov/pkg/catalog"
	"github.com/piprov/piprov/pkg/configurator"
	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
)

type (
	request  = fsm.Request[ProvisionRequest, ProvisionResponse]
	response = fsm.Response[ProvisionResponse]
)

// handlePreflight verifies host prerequisites
func (m *Machine) handlePreflight(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StatePreflight, req); err != nil {
		return nil, err
	}
	slog.Info("fsm_state_preflight", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		resp = &ProvisionResponse{}
	}
	resp.Status = db.RunRunning

	if m.deps.Preflight != nil {
		if err := m.deps.Preflight(ctx); err != nil {
			return nil, m.abort(StatePreflight, resp, err)
		}
	}

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleResolve picks the image source, live or pinned
func (m *Machine) handleResolve(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateResolve, req); err != nil {
		return nil, err
	}
	slog.Info("fsm_state_resolve", "flavor", req.Msg.Flavor, "arch", req.Msg.Arch)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	v, err := catalog.ParseVariant(req.Msg.Flavor, req.Msg.Arch)
	if err != nil {
		return nil, m.abort(StateResolve, resp, errors.Resolution(errors.ErrNoMatch, req.Msg.Flavor+"/"+req.Msg.Arch, err))
	}

	src, err := m.deps.Resolver.Resolve(ctx, v)
	if err != nil {
		return nil, m.abort(StateResolve, resp, err)
	}

	m.mu.Lock()
	m.run.source = src
	m.mu.Unlock()

	resp.ImageFilename = src.Filename
	resp.ImageURL = src.URL()
	resp.LiveCatalog = src.Live
	slog.Info("image_resolved", "variant", v.String(), "filename", src.Filename, "live", src.Live)

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleFetch ensures the decompressed image is in the cache
func (m *Machine) handleFetch(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateFetch, req); err != nil {
		return nil, err
	}
	slog.Info("fsm_state_fetch", "filename", req.W.Msg.ImageFilename)

	resp := req.W.Msg
	m.mu.Lock()
	src := m.run.source
	m.mu.Unlock()

	_, hit := m.deps.Cache.Cached(src)
	if !hit {
		if err := m.deps.Guard.CheckCacheSpace(m.deps.Cache.Dir()); err != nil {
			return nil, m.abort(StateFetch, resp, err)
		}
	}

	path, err := m.deps.Cache.EnsureLocalImage(ctx, src)
	if err != nil {
		return nil, m.abort(StateFetch, resp, err)
	}

	resp.ImagePath = path
	resp.CacheHit = hit

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleConfirm selects the card, asks the operator and unmounts it
func (m *Machine) handleConfirm(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateConfirm, req); err != nil {
		return nil, err
	}
	slog.Info("fsm_state_confirm", "run_id", req.Msg.RunID)

	resp := req.W.Msg

	target, err := m.deps.Guard.Detect(ctx)
	if err != nil {
		return nil, m.abort(StateConfirm, resp, err)
	}
	resp.Device = target.Path
	resp.Capacity = target.Capacity
	resp.Boot, resp.Root = target.Partitions()

	if m.deps.Runs != nil {
		if err := m.deps.Runs.UpdateRunTarget(req.Msg.RunID, target.Path, req.Msg.Hostname); err != nil {
			slog.Warn("run_record_failed", "run_id", req.Msg.RunID, "error", err)
		}
	}

	if err := m.deps.Guard.Confirm(ctx, target); err != nil {
		return nil, m.abort(StateConfirm, resp, err)
	}
	if err := m.deps.Guard.EnsureUnmounted(ctx, target); err != nil {
		return nil, m.abort(StateConfirm, resp, err)
	}

	m.mu.Lock()
	m.run.target = target
	m.run.confirmed = true
	m.mu.Unlock()

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleWrite streams the image onto the confirmed device
func (m *Machine) handleWrite(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateWrite, req); err != nil {
		return nil, err
	}
	resp := req.W.Msg
	slog.Info("fsm_state_write", "device", resp.Device, "image", resp.ImagePath)

	m.mu.Lock()
	confirmed := m.run.confirmed && m.run.target != nil && m.run.target.Path == resp.Device
	m.mu.Unlock()

	res, err := m.deps.Writer.Write(ctx, resp.ImagePath, resp.Device, confirmed)
	if err != nil {
		return nil, m.abort(StateWrite, resp, err)
	}
	resp.BytesWritten = res.Bytes

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleConfigure injects firmware settings and the first-boot file
func (m *Machine) handleConfigure(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateConfigure, req); err != nil {
		return nil, err
	}
	resp := req.W.Msg
	slog.Info("fsm_state_configure", "boot", resp.Boot, "root", resp.Root)

	m.mu.Lock()
	rec := m.run.record
	m.mu.Unlock()

	res, err := m.deps.Configurator.Configure(ctx, configurator.Partitions{
		Device: resp.Device,
		Boot:   resp.Boot,
		Root:   resp.Root,
	}, rec)
	if err != nil {
		return nil, m.abort(StateConfigure, resp, err)
	}
	resp.ConfigFile = res.ConfigFile
	resp.OSName = res.OSName

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleAwaitBoot optionally waits for the new host. A timeout is reported
// but does not undo a successful provisioning.
func (m *Machine) handleAwaitBoot(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateAwaitBoot, req); err != nil {
		return nil, err
	}
	resp := req.W.Msg

	if !req.Msg.WaitForBoot || m.deps.Poller == nil {
		slog.Info("await_boot_skipped", "hostname", req.Msg.Hostname)
		m.save(resp)
		return fsm.NewResponse(resp), nil
	}
	slog.Info("fsm_state_await_boot", "hostname", req.Msg.Hostname)

	res, err := m.deps.Poller.Await(ctx, req.Msg.Hostname)
	switch {
	case err == nil:
		resp.Address = res.Address
	case errors.KindOf(err) == errors.KindTimeout:
		resp.BootTimeout = true
		resp.ErrorMessage = err.Error()
	default:
		return nil, m.abort(StateAwaitBoot, resp, err)
	}

	m.save(resp)
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the run as succeeded
func (m *Machine) handleComplete(ctx context.Context, req *request) (*response, error) {
	if err := m.claim(StateComplete, req); err != nil {
		return nil, err
	}
	resp := req.W.Msg
	resp.Status = db.RunSucceeded

	slog.Info("fsm_complete", "run_id", req.Msg.RunID, "device", resp.Device, "image", resp.ImageFilename, "address", resp.Address)

	m.save(resp)
	return fsm.NewResponse(resp), nil
}
