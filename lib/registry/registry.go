// Package registry owns every loaded mod of a host process.
//
// All mutations and ListLoaded run under one mutex. Lifecycle calls into
// mods run to completion inside that critical section, so mods must not do
// long-running work in them. Mods that need to see the set of loaded mods
// read the snapshot published after each mutation instead of calling back
// into the Registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowmerak/modhost/lib/loaderapi"
	"github.com/snowmerak/modhost/lib/mod"
)

// ErrClosed is returned by operations on a closed Registry.
var ErrClosed = errors.New("registry closed")

// Registry is the authoritative owner of all loaded mod instances.
type Registry struct {
	logger  *slog.Logger
	api     *loaderapi.API
	reclaim func()

	mu      sync.Mutex
	closed  bool
	loaders map[string]mod.Loader
	byID    map[string]*instance
	order   []*instance
	slots   slotTable

	snapshot atomic.Pointer[[]mod.Info]
}

// New creates a Registry. A nil opts uses DefaultOptions.
func New(opts *Options) *Registry {
	if opts == nil {
		opts = DefaultOptions()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		logger:  logger,
		reclaim: opts.Reclaim,
		loaders: make(map[string]mod.Loader),
		byID:    make(map[string]*instance),
	}
	for kind, loader := range opts.Loaders {
		r.loaders[kind] = loader
	}
	r.api = loaderapi.New(opts.Host,
		loaderapi.WithLogger(logger),
		loaderapi.WithSnapshot(r.Snapshot),
	)
	r.publish()

	return r
}

// API returns the loader API shared by the Registry's mods. The host can
// register its own hooks on it.
func (r *Registry) API() *loaderapi.API {
	return r.api
}

// Register binds a loader to a locator kind, replacing any previous one.
func (r *Registry) Register(kind string, loader mod.Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = loader
}

// Load loads the unit at loc and registers every implementation it exposes.
// Implementations without a declared identity are registered as id.
//
// When a unit exposes several implementations, the ones that start are
// registered even if a later one fails; the failures are returned joined.
func (r *Registry) Load(ctx context.Context, id string, loc mod.Locator) (err error) {
	start := time.Now()
	defer func() { r.logOp("load", id, start, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return mod.NewError("load", id, ErrClosed)
	}
	if id == "" {
		return mod.NewError("load", id, fmt.Errorf("%w: empty identity", mod.ErrLoadFailure))
	}
	if _, ok := r.byID[id]; ok {
		return mod.NewError("load", id, mod.ErrDuplicateIdentity)
	}

	loader, ok := r.loaders[loc.Kind]
	if !ok {
		return mod.NewError("load", id, fmt.Errorf("%w: no loader for kind %q", mod.ErrLoadFailure, loc.Kind))
	}

	var unit mod.Unit
	err = guard(func() error {
		var loadErr error
		unit, loadErr = loader.Load(ctx, id, loc)
		return loadErr
	})
	if err != nil {
		if !errors.Is(err, mod.ErrLoadFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", mod.ErrLoadFailure, err)
		}
		return mod.NewError("load", id, err)
	}

	ref := &unitRef{unit: unit, loc: loc}
	var errs []error
	for _, impl := range unit.Implementations() {
		entryID := impl.ID
		if entryID == "" {
			entryID = id
		}
		if err := r.add(entryID, impl.Mod, ref); err != nil {
			errs = append(errs, err)
		}
	}

	if ref.refs == 0 {
		if len(errs) == 0 {
			errs = append(errs, mod.NewError("load", id, fmt.Errorf("%w: unit exposes no implementation", mod.ErrLoadFailure)))
		}
		errs = append(errs, ref.release())
	}
	r.publish()

	return errors.Join(errs...)
}

// add registers and starts one implementation. On failure nothing of the
// implementation stays registered.
func (r *Registry) add(id string, m mod.Mod, ref *unitRef) error {
	if m == nil {
		return mod.NewError("load", id, fmt.Errorf("%w: nil implementation", mod.ErrLoadFailure))
	}
	if _, ok := r.byID[id]; ok {
		return mod.NewError("load", id, mod.ErrDuplicateIdentity)
	}

	inst := &instance{
		id:         id,
		mod:        m,
		unit:       ref,
		state:      mod.StateLoading,
		canSuspend: guardBool(m.CanSuspend),
		canUnload:  guardBool(m.CanUnload),
	}
	inst.handle = r.slots.acquire(inst)
	r.byID[id] = inst
	ref.acquire()
	r.publish()

	r.api.Fire(mod.EventLoading, id, inst.info())

	if err := guard(func() error { return m.Start(r.api.ForMod(id)) }); err != nil {
		delete(r.byID, id)
		r.slots.release(inst.handle)
		r.api.Release(id)
		inst.mod = nil
		ref.refs--
		return mod.NewError("start", id, fmt.Errorf("%w: %v", mod.ErrLoadFailure, err))
	}

	inst.state = mod.StateRunning
	r.order = append(r.order, inst)
	r.api.Fire(mod.EventLoaded, id, inst.info())
	return nil
}

// Unload tears down the mod with the given id.
func (r *Registry) Unload(id string) (err error) {
	start := time.Now()
	defer func() { r.logOp("unload", id, start, err) }()

	r.mu.Lock()
	inst, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return mod.NewError("unload", id, mod.ErrNotFound)
	}
	if !inst.canUnload {
		r.mu.Unlock()
		return mod.NewError("unload", id, mod.ErrCannotUnload)
	}

	err = r.teardown(inst, true)
	r.publish()
	r.mu.Unlock()

	if r.reclaim != nil {
		r.reclaim()
	}
	if err != nil {
		return mod.NewError("unload", id, err)
	}
	return nil
}

// teardown raises Disposing, calls the mod's Unload when unload is set, then
// drops the entry and releases its unit. Once Disposing is raised the entry
// is removed even if Unload fails; the failure is returned.
func (r *Registry) teardown(inst *instance, unload bool) error {
	r.api.Fire(mod.EventUnloading, inst.id, inst.info())

	guard(func() error {
		inst.mod.Disposing()
		return nil
	})

	var errs []error
	if unload {
		if err := guard(inst.mod.Unload); err != nil {
			errs = append(errs, err)
		}
	}

	inst.mod = nil
	inst.state = mod.StateUnloaded
	delete(r.byID, inst.id)
	r.slots.release(inst.handle)
	r.order = slices.DeleteFunc(r.order, func(o *instance) bool { return o == inst })
	r.api.Release(inst.id)

	if err := inst.unit.release(); err != nil {
		errs = append(errs, err)
	}
	inst.unit = nil

	r.api.Fire(mod.EventUnloaded, inst.id, inst.info())
	return errors.Join(errs...)
}

// Suspend pauses the mod with the given id. Suspending a suspended mod does nothing.
func (r *Registry) Suspend(id string) error {
	return r.transition("suspend", id, mod.StateSuspended, mod.Mod.Suspend)
}

// Resume continues the mod with the given id. Resuming a running mod does nothing.
func (r *Registry) Resume(id string) error {
	return r.transition("resume", id, mod.StateRunning, mod.Mod.Resume)
}

func (r *Registry) transition(op, id string, target mod.State, call func(mod.Mod) error) (err error) {
	start := time.Now()
	defer func() { r.logOp(op, id, start, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return mod.NewError(op, id, mod.ErrNotFound)
	}
	if !inst.canSuspend {
		return mod.NewError(op, id, mod.ErrCannotSuspend)
	}
	if inst.state == target {
		return nil
	}

	if err := guard(func() error { return call(inst.mod) }); err != nil {
		return mod.NewError(op, id, err)
	}
	inst.state = target
	r.publish()
	return nil
}

// ListLoaded returns the loaded mods in load order.
func (r *Registry) ListLoaded() []mod.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infos()
}

// Snapshot returns the list published after the most recent mutation
// without taking the registry lock. It is safe to call from lifecycle code.
func (r *Registry) Snapshot() []mod.Info {
	if p := r.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// Handle returns the handle of the mod with the given id.
func (r *Registry) Handle(id string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return Handle{}, mod.NewError("handle", id, mod.ErrNotFound)
	}
	return inst.handle, nil
}

// Info resolves a handle. A handle whose mod was unloaded fails with
// mod.ErrStaleHandle.
func (r *Registry) Info(h Handle) (mod.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.slots.lookup(h)
	if !ok {
		return mod.Info{}, mod.NewError("resolve", h.String(), mod.ErrStaleHandle)
	}
	return inst.info(), nil
}

// Close tears down every mod in reverse load order. Mods that can be
// unloaded get Unload; the others are only disposed. Close stops early if
// ctx is done and reports the mods it did not reach.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true

	var errs []error
	for len(r.order) > 0 {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("close: %d mods left loaded: %w", len(r.order), err))
			break
		}

		inst := r.order[len(r.order)-1]
		if err := r.teardown(inst, inst.canUnload); err != nil {
			errs = append(errs, mod.NewError("unload", inst.id, err))
		}
	}
	r.publish()
	r.mu.Unlock()

	if r.reclaim != nil {
		r.reclaim()
	}
	r.logger.Info("registry closed")
	return errors.Join(errs...)
}

// publish stores a fresh snapshot. Callers hold r.mu.
func (r *Registry) publish() {
	infos := r.infos()
	r.snapshot.Store(&infos)
}

func (r *Registry) infos() []mod.Info {
	infos := make([]mod.Info, 0, len(r.byID))
	for _, inst := range r.order {
		infos = append(infos, inst.info())
	}
	// Entries still starting are not in order yet.
	for _, inst := range r.byID {
		if inst.state == mod.StateLoading {
			infos = append(infos, inst.info())
		}
	}
	return infos
}

func (r *Registry) logOp(op, id string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("mod operation failed", "op", op, "id", id, "elapsed", elapsed, "error", err)
		return
	}
	r.logger.Info("mod operation completed", "op", op, "id", id, "elapsed", elapsed)
}
