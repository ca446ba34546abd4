package main

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/snowmerak/modhost/lib/mod"
	"github.com/snowmerak/modhost/lib/mod/builtin"
)

// bundledCatalog returns the mods compiled into modhost. They are loaded like
// any other catalog entry, e.g. `locator = "builtin:modhost.audit"`.
func bundledCatalog() *builtin.Catalog {
	catalog := builtin.NewCatalog()
	catalog.RegisterMod("modhost.audit", func() mod.Mod { return &auditMod{} })
	catalog.RegisterMod("modhost.placeholder", func() mod.Mod { return &builtin.Static{} })
	return catalog
}

// auditMod logs the lifecycle of every other mod while it is running.
type auditMod struct {
	mod.Base

	mu     sync.Mutex
	unsubs []func()
	paused atomic.Bool
	logger *slog.Logger
}

func (m *auditMod) Start(api mod.LoaderAPI) error {
	m.logger = api.Logger()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, event := range []mod.Event{mod.EventLoaded, mod.EventUnloading} {
		m.unsubs = append(m.unsubs, api.On(event, m.hook(event)))
	}
	api.AddController("modhost.audit", m)

	m.logger.Info("Auditing mod lifecycle", "active", len(api.ActiveMods()))
	return nil
}

func (m *auditMod) hook(event mod.Event) mod.Hook {
	return func(id string, info mod.Info) {
		if m.paused.Load() {
			return
		}
		m.logger.Info("Mod "+event.String(), "mod", id, "state", info.State.String())
	}
}

func (m *auditMod) Suspend() error {
	m.paused.Store(true)
	return nil
}

func (m *auditMod) Resume() error {
	m.paused.Store(false)
	return nil
}

func (m *auditMod) CanSuspend() bool { return true }

func (m *auditMod) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	return nil
}
