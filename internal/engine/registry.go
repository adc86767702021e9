package engine

import (
	"sync"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// Registry is the process-wide index of live account instances. It is
// injected into every consumer; there is no package-level instance map.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	logger    *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		logger:    log.WithModule("registry"),
	}
}

// Register installs an instance under its key. A previous instance under the
// same key is torn down first so its transport and dispatch loop cannot leak.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	prev, existed := r.instances[inst.Key()]
	r.instances[inst.Key()] = inst
	r.mu.Unlock()

	if existed && prev != inst {
		r.logger.InfoWithFields("replacing registered instance", map[string]interface{}{
			"instance_key": inst.Key(),
		})
		prev.Teardown()
	}
}

// Lookup returns the instance registered under key.
func (r *Registry) Lookup(key string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[key]
	return inst, ok
}

// Remove drops the instance under key without tearing it down; callers
// decide whether a teardown or logout precedes removal.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.instances, key)
	r.mu.Unlock()
}

// Keys returns the registered account keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	return keys
}

// ListActive summarizes every registered instance. The listing is computed
// per call so connection state is never served stale.
func (r *Registry) ListActive() []ports.InstanceSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.InstanceSummary, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.Summary())
	}
	return out
}
