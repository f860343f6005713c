package dashboard

import "github.com/efebarandurmaz/codelens/internal/config"

// Dashboard ties together all dashboard components.
//
// The event side (Store, Hub, Emitter) exists before the server so the
// emitter can be handed to the fetcher and graph builder the server uses.
type Dashboard struct {
	Config  config.DashboardConfig
	Server  *Server
	Store   *Store
	Hub     *Hub
	Emitter *Emitter
}

// New creates the event side of the dashboard.
func New(cfg config.DashboardConfig) *Dashboard {
	store := NewStore()
	hub := NewHub()
	return &Dashboard{
		Config:  cfg,
		Store:   store,
		Hub:     hub,
		Emitter: NewEmitter(store, hub),
	}
}

// Mount creates the HTTP server over deps.
func (d *Dashboard) Mount(deps Deps) *Server {
	d.Server = NewServer(d.Config, d.Store, d.Hub, d.Emitter, deps)
	return d.Server
}
