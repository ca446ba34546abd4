package loaderapi

import (
	"log/slog"

	"github.com/snowmerak/modhost/lib/mod"
)

// view is the API as seen by one mod.
type view struct {
	api    *API
	id     string
	logger *slog.Logger
}

var _ mod.LoaderAPI = (*view)(nil)

func (v *view) Host() mod.HostInfo {
	return v.api.host
}

func (v *view) Logger() *slog.Logger {
	return v.logger
}

func (v *view) ActiveMods() []mod.Info {
	return v.api.activeMods()
}

func (v *view) On(event mod.Event, hook mod.Hook) func() {
	return v.api.on(v.id, event, hook)
}

func (v *view) AddController(name string, value any) {
	v.api.addController(v.id, name, value)
}

func (v *view) Controller(name string) (any, bool) {
	return v.api.Controller(name)
}

// RemoveController only removes entries the mod published itself.
func (v *view) RemoveController(name string) {
	v.api.removeController(v.id, name)
}
