// Package loaderapi implements the capability surface the registry hands to
// every mod in Start: host identity, a scoped logger, lifecycle hooks and
// named controllers shared between mods.
package loaderapi

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/snowmerak/modhost/lib/mod"
)

type hookEntry struct {
	owner string
	hook  mod.Hook
}

type controllerEntry struct {
	owner string
	value any
}

// API is shared by all mods of one registry. Mods see it through ForMod.
type API struct {
	host     mod.HostInfo
	logger   *slog.Logger
	snapshot func() []mod.Info

	mu          sync.RWMutex
	nextHook    uint64
	hooks       map[mod.Event]map[uint64]hookEntry
	controllers map[string]controllerEntry
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the parent of every mod logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithSnapshot sets the source of ActiveMods. The function must not block on
// the registry lock.
func WithSnapshot(snapshot func() []mod.Info) Option {
	return func(a *API) {
		a.snapshot = snapshot
	}
}

// New creates an API for the given host.
func New(host mod.HostInfo, opts ...Option) *API {
	a := &API{
		host:        host,
		logger:      slog.Default(),
		hooks:       make(map[mod.Event]map[uint64]hookEntry),
		controllers: make(map[string]controllerEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Host returns the host identity.
func (a *API) Host() mod.HostInfo {
	return a.host
}

// ForMod returns the view of the API handed to the mod with the given id.
// Hooks and controllers registered through the view are owned by that mod.
func (a *API) ForMod(id string) mod.LoaderAPI {
	return &view{api: a, id: id, logger: a.logger.With("mod", id)}
}

// On registers a hook owned by the host itself. Host hooks survive every
// mod unload.
func (a *API) On(event mod.Event, hook mod.Hook) func() {
	return a.on("", event, hook)
}

// Fire invokes every hook registered for event in registration order.
// Hooks may register further hooks or controllers.
func (a *API) Fire(event mod.Event, id string, info mod.Info) {
	a.mu.RLock()
	set := a.hooks[event]
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	hooks := make([]mod.Hook, 0, len(keys))
	for _, k := range keys {
		hooks = append(hooks, set[k].hook)
	}
	a.mu.RUnlock()

	for _, hook := range hooks {
		hook(id, info)
	}
}

// Release drops every hook and controller owned by the mod with the given
// id, so no reference into an unloaded unit stays reachable from the API.
func (a *API) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, set := range a.hooks {
		for k, entry := range set {
			if entry.owner == id {
				delete(set, k)
			}
		}
	}
	for name, entry := range a.controllers {
		if entry.owner == id {
			delete(a.controllers, name)
		}
	}
}

// Controller returns the value published under name.
func (a *API) Controller(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.controllers[name]
	return entry.value, ok
}

func (a *API) activeMods() []mod.Info {
	if a.snapshot == nil {
		return nil
	}
	return a.snapshot()
}

func (a *API) on(owner string, event mod.Event, hook mod.Hook) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextHook++
	key := a.nextHook
	set, ok := a.hooks[event]
	if !ok {
		set = make(map[uint64]hookEntry)
		a.hooks[event] = set
	}
	set[key] = hookEntry{owner: owner, hook: hook}

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.hooks[event], key)
		})
	}
}

func (a *API) addController(owner, name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controllers[name] = controllerEntry{owner: owner, value: value}
}

func (a *API) removeController(owner, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.controllers[name]; ok && entry.owner == owner {
		delete(a.controllers, name)
	}
}
