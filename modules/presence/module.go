package presence

import (
	"context"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Module owns the process-wide Registry so that its lifetime follows the
// application lifecycle.
type Module struct {
	registry *Registry
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a presence module with an empty registry.
func NewModule(logger types.Logger) *Module {
	return &Module{
		registry: NewRegistry(),
		logger:   logger.WithModule("presence"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

// Registry returns the registry shared with the router and broadcast modules.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Start implements mono.Module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("presence registry ready")
	return nil
}

// Stop drops all presence state.
func (m *Module) Stop(_ context.Context) error {
	sessions := m.registry.SessionCount()
	m.registry.Reset()
	m.logger.Info("presence registry cleared", "sessions", sessions)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"sessions":         m.registry.SessionCount(),
			"rooms":            len(m.registry.Rooms()),
			"private_bindings": m.registry.BindingCount(),
		},
	}
}
