// Package registry is the Service Registry: a process-local struct holding
// references to every leaf service, built once in cmd/orchestrator/main.go
// and passed explicitly to constructors that need it. There is exactly one
// Registry per process, built leaf-first, and nothing in this package
// reaches for a package-level variable.
package registry

import (
	"log/slog"

	"github.com/delgross/ai-orchestrator-sub002/internal/budget"
	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/notify"
	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
)

// Registry holds every leaf service a higher-layer component may need.
// Fields are populated in leaf-first order by main.go: Store and Config
// first, then Circuit/Notify/Tempo/Budget, then the higher layers register
// themselves here as they're constructed (ToolExec, Memory, Scheduler, ...)
// so later-built components can look up earlier ones without an import
// cycle back to main.
type Registry struct {
	Logger  *slog.Logger
	Config  *config.Config
	Store   *statestore.Store
	Circuit *circuit.Registry
	Notify  *notify.Service
	Tempo   *tempo.Gauge
	Budget  *budget.Tracker

	// ToolExec, Memory, Scheduler, Sentinel, and Agent are set once those
	// layers are constructed; they are declared as `any` here to avoid this
	// low-level package importing every higher-level package (which would
	// create an import cycle back down to registry). Call sites that need a
	// concrete type perform a local type assertion.
	ToolExec  any
	Memory    any
	Scheduler any
	Sentinel  any
	Agent     any
}

// New builds the leaf portion of the registry. Higher layers are attached
// afterward via the setters below.
func New(logger *slog.Logger, cfg *config.Config, store *statestore.Store, notifySvc *notify.Service) *Registry {
	return &Registry{
		Logger:  logger,
		Config:  cfg,
		Store:   store,
		Circuit: circuit.NewRegistry(notifySvc),
		Notify:  notifySvc,
		Tempo:   tempo.NewDefaultGauge(),
		Budget:  budget.NewTracker(),
	}
}

func (r *Registry) SetToolExec(v any)  { r.ToolExec = v }
func (r *Registry) SetMemory(v any)    { r.Memory = v }
func (r *Registry) SetScheduler(v any) { r.Scheduler = v }
func (r *Registry) SetSentinel(v any)  { r.Sentinel = v }
func (r *Registry) SetAgent(v any)     { r.Agent = v }
