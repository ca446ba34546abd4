// Package wasm loads WebAssembly mods through the Extism runtime.
//
// Every unit owns one Extism plugin, and with it one wazero runtime. Closing
// the unit closes the plugin, which releases the unit's memory.
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/snowmerak/modhost/lib/mod"
)

// Kind is the locator kind served by Loader.
const Kind = "wasm"

// Export names recognised on a module.
const (
	ExportStart      = "start"
	ExportSuspend    = "suspend"
	ExportResume     = "resume"
	ExportUnload     = "unload"
	ExportCanSuspend = "can_suspend"
	ExportCanUnload  = "can_unload"
	ExportModIDs     = "mod_ids"
)

// instance is the part of *extism.Plugin the adapter uses.
type instance interface {
	FunctionExists(name string) bool
	Call(name string, input []byte) (uint32, []byte, error)
	Close(ctx context.Context) error
}

// Loader instantiates "wasm:<path>" locators.
type Loader struct {
	logger      *slog.Logger
	config      extism.PluginConfig
	instantiate func(ctx context.Context, path string) (instance, error)
	metadata    func(id string) map[string]string
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger that receives module log output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithWASI toggles WASI support for instantiated modules.
func WithWASI(enabled bool) Option {
	return func(l *Loader) {
		l.config.EnableWasi = enabled
	}
}

// WithMetadata sets the lookup for the catalog metadata handed to a module's
// start export.
func WithMetadata(fn func(id string) map[string]string) Option {
	return func(l *Loader) {
		l.metadata = fn
	}
}

// NewLoader returns a Loader backed by Extism.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		logger: slog.Default(),
		config: extism.PluginConfig{EnableWasi: true},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.instantiate = l.newPlugin
	return l
}

func (l *Loader) newPlugin(ctx context.Context, path string) (instance, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{Path: path},
		},
	}

	plugin, err := extism.NewPlugin(ctx, manifest, l.config, nil)
	if err != nil {
		return nil, err
	}

	logger := l.logger.With("wasm", path)
	plugin.SetLogger(func(level extism.LogLevel, msg string) {
		logger.Log(context.Background(), slogLevel(level), msg)
	})

	return plugin, nil
}

// Load implements mod.Loader.
func (l *Loader) Load(ctx context.Context, id string, loc mod.Locator) (mod.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inst, err := l.instantiate(ctx, loc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate %s: %v", mod.ErrLoadFailure, loc.Path, err)
	}

	var meta map[string]string
	if l.metadata != nil {
		meta = l.metadata(id)
	}

	u, err := newUnit(inst, id, meta)
	if err != nil {
		inst.Close(context.Background())
		return nil, err
	}
	return u, nil
}

// unit shares one instance between every implementation the module declares.
type unit struct {
	mu    sync.Mutex
	inst  instance
	impls []mod.Implementation
}

func newUnit(inst instance, id string, meta map[string]string) (*unit, error) {
	if !inst.FunctionExists(ExportStart) {
		return nil, fmt.Errorf("%w: module has no %q export", mod.ErrLoadFailure, ExportStart)
	}

	u := &unit{inst: inst}

	ids := []string{""}
	if inst.FunctionExists(ExportModIDs) {
		out, err := u.call(ExportModIDs, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", mod.ErrLoadFailure, err)
		}
		ids = parseIDs(out)
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: %q returned no identities", mod.ErrLoadFailure, ExportModIDs)
		}
	}

	for _, declared := range ids {
		self := declared
		if self == "" {
			self = id
		}
		u.impls = append(u.impls, mod.Implementation{
			ID:  declared,
			Mod: &Mod{unit: u, id: self, metadata: meta},
		})
	}
	return u, nil
}

func (u *unit) Implementations() []mod.Implementation {
	return u.impls
}

func (u *unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.impls = nil
	if u.inst == nil {
		return nil
	}
	err := u.inst.Close(context.Background())
	u.inst = nil
	return err
}

func (u *unit) exists(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inst != nil && u.inst.FunctionExists(name)
}

func (u *unit) call(name string, input []byte) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.inst == nil {
		return nil, fmt.Errorf("call %s: module closed", name)
	}
	exit, out, err := u.inst.Call(name, input)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if exit != 0 {
		return nil, fmt.Errorf("call %s: exit code %d", name, exit)
	}
	return out, nil
}

// startDocument is the input of the start export.
type startDocument struct {
	ID            string            `json:"id"`
	AppID         string            `json:"app_id"`
	AppName       string            `json:"app_name"`
	LoaderVersion string            `json:"loader_version"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Mod is one implementation hosted by a module.
type Mod struct {
	unit     *unit
	id       string
	metadata map[string]string
}

func (m *Mod) Start(api mod.LoaderAPI) error {
	doc := startDocument{ID: m.id, Metadata: m.metadata}
	if api != nil {
		host := api.Host()
		doc.AppID = host.AppID
		doc.AppName = host.AppName
		doc.LoaderVersion = host.LoaderVersion
	}

	input, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = m.unit.call(ExportStart, input)
	return err
}

func (m *Mod) Suspend() error { return m.optional(ExportSuspend) }
func (m *Mod) Resume() error  { return m.optional(ExportResume) }
func (m *Mod) Unload() error  { return m.optional(ExportUnload) }

func (m *Mod) CanSuspend() bool { return m.flag(ExportCanSuspend) }
func (m *Mod) CanUnload() bool  { return m.flag(ExportCanUnload) }

func (m *Mod) Disposing() {}

func (m *Mod) optional(name string) error {
	if !m.unit.exists(name) {
		return nil
	}
	_, err := m.unit.call(name, []byte(m.id))
	return err
}

func (m *Mod) flag(name string) bool {
	if !m.unit.exists(name) {
		return false
	}
	out, err := m.unit.call(name, []byte(m.id))
	if err != nil {
		return false
	}
	return granted(out)
}

// granted reads a can_* export result.
func granted(out []byte) bool {
	switch strings.ToLower(string(bytes.TrimSpace(out))) {
	case "1", "true":
		return true
	default:
		return false
	}
}

// parseIDs splits mod_ids output into identities, skipping blank lines.
func parseIDs(out []byte) []string {
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

func slogLevel(level extism.LogLevel) slog.Level {
	switch level {
	case extism.LogLevelError:
		return slog.LevelError
	case extism.LogLevelWarn:
		return slog.LevelWarn
	case extism.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
