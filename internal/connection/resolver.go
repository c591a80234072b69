package connection

import (
	"sync"

	osirisErrors "github.com/osiris-data/osiris/errors"
)

// EventLogger is the minimal logging surface the resolver needs; the
// session package's Context satisfies it. Defined here (rather than
// imported) to avoid a session<->connection import cycle.
type EventLogger interface {
	LogEvent(name string, fields map[string]interface{})
}

// Resolver resolves connection references against a Store, emitting
// connection_resolve_start/connection_resolve_complete events around each
// resolution.
type Resolver struct {
	store *Store
	log   EventLogger
}

// NewResolver builds a Resolver over store. log may be nil (no events
// emitted), which is convenient for tests.
func NewResolver(store *Store, log EventLogger) *Resolver {
	return &Resolver{store: store, log: log}
}

// Resolve resolves family/alias, logging connection_resolve_start before
// and connection_resolve_complete (with ok and, on failure, the env var
// name) after. Never logs secret values.
func (r *Resolver) Resolve(family, alias string) (*Record, error) {
	if r.log != nil {
		r.log.LogEvent("connection_resolve_start", map[string]interface{}{
			"family": family,
			"alias":  alias,
		})
	}

	rec, err := r.store.Resolve(family, alias)

	fields := map[string]interface{}{"family": family, "alias": alias, "ok": err == nil}
	if err != nil {
		if mev, ok := err.(*osirisErrors.MissingEnvVarError); ok {
			fields["env_var"] = mev.Var
		}
	}
	if r.log != nil {
		r.log.LogEvent("connection_resolve_complete", fields)
	}
	return rec, err
}

// LazyResolver defers loading the connections file until a step actually
// requests a connection, so a pipeline with no connection references runs
// even when osiris_connections.yaml is absent. The load happens at most
// once per LazyResolver (a failed load is not retried) and the store is
// read-only afterwards.
type LazyResolver struct {
	path string
	log  EventLogger

	once  sync.Once
	inner *Resolver
	err   error
}

// NewLazyResolver builds a LazyResolver over the connections file at path.
func NewLazyResolver(path string, log EventLogger) *LazyResolver {
	return &LazyResolver{path: path, log: log}
}

// Resolve loads the store on first use, then delegates to Resolver.Resolve.
func (r *LazyResolver) Resolve(family, alias string) (*Record, error) {
	r.once.Do(func() {
		store, err := Load(r.path)
		if err != nil {
			r.err = err
			return
		}
		r.inner = NewResolver(store, r.log)
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.Resolve(family, alias)
}
