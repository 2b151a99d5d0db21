// Package factory maps provider names to adapter constructors.
package factory

import (
	"sync"

	"linecare/internal/integrations"
	"linecare/internal/integrations/dynamics"
	"linecare/internal/integrations/generic"
	"linecare/internal/integrations/netsuite"
	"linecare/internal/integrations/odoo"
	"linecare/internal/integrations/sap"
)

type Constructor func(integrations.Deps) integrations.Adapter

type Factory struct {
	mu      sync.RWMutex
	aliases map[string]Constructor
	names   []string
	generic Constructor
}

// New returns a factory with the built-in providers registered.
func New() *Factory {
	f := &Factory{aliases: map[string]Constructor{}, generic: generic.New}
	f.Register(generic.Name, generic.New, "Generic REST", "REST", "Custom")
	f.Register(sap.Name, sap.New, "SAP S/4HANA", "SAP ECC")
	f.Register(netsuite.Name, netsuite.New, "Oracle NetSuite")
	f.Register(dynamics.Name, dynamics.New, "Dynamics 365", "Dynamics")
	f.Register(odoo.Name, odoo.New)
	return f
}

// Register adds or replaces a provider. Aliases match exactly, like the name.
func (f *Factory) Register(name string, ctor Constructor, aliases ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.aliases[name]; !exists {
		f.names = append(f.names, name)
	}
	f.aliases[name] = ctor
	for _, a := range aliases { f.aliases[a] = ctor }
}

// Known reports whether provider matches a registered name or alias.
func (f *Factory) Known(provider string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.aliases[provider]
	return ok
}

// For builds the adapter for d.Integration.Provider; unknown providers get the generic REST adapter.
func (f *Factory) For(d integrations.Deps) integrations.Adapter {
	f.mu.RLock()
	ctor, ok := f.aliases[d.Integration.Provider]
	f.mu.RUnlock()
	if !ok {
		ctor = f.generic
		if d.Logger != nil {
			d.Logger.Warn("unknown provider, using generic REST adapter")
		}
	}
	return ctor(d)
}

// SupportedProviders lists native provider names in registration order.
func (f *Factory) SupportedProviders() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.names...)
}
