// Package driverapi defines the driver contract and the
// process-wide registry that maps component names to driver factories.
package driverapi

import (
	"sort"
	"sync"

	"github.com/osiris-data/osiris/internal/registry"
	"github.com/osiris-data/osiris/logger"
)

// Result is a driver's output: zero or more named in-memory results,
// conventionally keyed by an output name like "rows" or "table".
type Result map[string]interface{}

// RunContext is the per-step object a driver's Run receives. It exposes
// the ambient session-logging operations and (for drivers that share a
// local in-process database) a handle to it.
type RunContext interface {
	LogEvent(name string, fields map[string]interface{})
	LogMetric(name string, value float64, unit string, stepID string)
	GetDBConnection() (interface{}, error)
}

// Driver is a concrete implementation of a component's run contract.
type Driver interface {
	Run(stepID string, config map[string]interface{}, inputs map[string]Result, ctx RunContext) (Result, error)
}

// Factory constructs a Driver instance. Factories are invoked lazily by
// Registry.Get, which caches a successful instance per Registry; a factory
// that returns an error is called again on the next Get.
type Factory func() (Driver, error)

// Registry maps component name -> driver factory: populated at startup
// from every loaded component spec, with unresolvable drivers logged but
// not fatal.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Driver
	order     []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Driver),
	}
}

// Register associates component with factory. Used both by
// BuildFromSpecs and directly by tests/fixtures.
func (r *Registry) Register(component string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[component]; !exists {
		r.order = append(r.order, component)
	}
	r.factories[component] = factory
}

// Get lazily instantiates (and caches) the driver for component.
func (r *Registry) Get(component string) (Driver, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[component]; ok {
		return inst, true, nil
	}
	factory, ok := r.factories[component]
	if !ok {
		return nil, false, nil
	}
	inst, err := factory()
	if err != nil {
		return nil, true, err
	}
	r.instances[component] = inst
	return inst, true, nil
}

// Registered reports whether any factory is known for component, without
// instantiating it.
func (r *Registry) Registered(component string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[component]
	return ok
}

// Components returns every component name with a registered factory,
// sorted.
func (r *Registry) Components() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// FactoryResolver looks up a concrete Factory for an x-runtime.driver
// symbol. The core has no compiled-in knowledge of driver implementations;
// the host process supplies this resolver (populated from the fixture
// drivers package, or a future plugin mechanism).
type FactoryResolver func(driverSymbol string) (Factory, bool)

// BuildFromSpecs populates a Registry by iterating specs and resolving
// each spec's x-runtime.driver symbol through resolve. A spec with no
// x-runtime.driver is skipped silently (not every component needs a local
// driver, e.g. discovery-only specs). A spec whose driver symbol resolve
// can't find logs driver_registration_failed and continues; the failure
// surfaces only when a step requires that component.
func BuildFromSpecs(specs []*registry.Spec, resolve FactoryResolver) *Registry {
	reg := NewRegistry()
	for _, spec := range specs {
		sym := spec.Driver()
		if sym == "" {
			continue
		}
		factory, ok := resolve(sym)
		if !ok {
			logger.L.WithField("component", spec.Name).WithField("driver", sym).
				Warn("osiris: driver_registration_failed")
			continue
		}
		reg.Register(spec.Name, factory)
	}
	return reg
}
