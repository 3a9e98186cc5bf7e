// Package worker provides the registry of selectable model workers.
// Workers are execution targets identified by an opaque id; a worker is
// either local-capable (runs without leaving the machine) or cloud-only.
package worker

import (
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tier describes the capability class of a worker.
type Tier string

const (
	TierFast     Tier = "fast"     // low latency, cheap, small context
	TierBalanced Tier = "balanced" // general purpose
	TierDeep     Tier = "deep"     // highest capability, slowest
)

// Worker describes a single selectable model worker.
type Worker struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	Provider        string `yaml:"provider" json:"provider"` // local/cloud provider identifier
	Tier            Tier   `yaml:"tier" json:"tier"`
	LocalCapable    bool   `yaml:"local_capable" json:"local_capable"`
	UncertaintySafe bool   `yaml:"uncertainty_safe" json:"uncertainty_safe"`
}

// Registry holds the set of known workers.
// It is read-mostly: built once at startup, queried per request.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string // registration order, for deterministic listings
}

// NewRegistry creates a registry from a worker list.
func NewRegistry(workers []Worker) *Registry {
	r := &Registry{workers: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		if _, ok := r.workers[w.ID]; ok {
			continue
		}
		r.workers[w.ID] = w
		r.order = append(r.order, w.ID)
	}
	return r
}

// registryFile is the YAML document shape for worker definitions.
type registryFile struct {
	Workers []Worker `yaml:"workers"`
}

// LoadFromFile reads a YAML worker definition file.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read worker registry %s", path)
	}
	return LoadFromYAML(data)
}

// LoadFromYAML parses worker definitions from YAML bytes.
func LoadFromYAML(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse worker registry")
	}
	if len(file.Workers) == 0 {
		return nil, errors.New("worker registry defines no workers")
	}
	for _, w := range file.Workers {
		if w.ID == "" {
			return nil, errors.New("worker registry entry missing id")
		}
	}
	return NewRegistry(file.Workers), nil
}

// Get returns a worker by id.
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// IsLocalCapable reports whether a worker can execute locally.
// Unknown workers are never local-capable.
func (r *Registry) IsLocalCapable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return ok && w.LocalCapable
}

// IsUncertaintySafe reports whether a worker is on the uncertainty-safe allow-list.
func (r *Registry) IsUncertaintySafe(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return ok && w.UncertaintySafe
}

// List returns all workers in registration order.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id])
	}
	return out
}

// LocalWorkers returns all local-capable workers, fast tier first.
func (r *Registry) LocalWorkers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Worker
	for _, id := range r.order {
		if w := r.workers[id]; w.LocalCapable {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return tierRank(out[i].Tier) < tierRank(out[j].Tier)
	})
	return out
}

// FirstByTier returns the first registered worker of the given tier.
func (r *Registry) FirstByTier(tier Tier) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if w := r.workers[id]; w.Tier == tier {
			return w, true
		}
	}
	return Worker{}, false
}

// FirstLocal returns the fastest local-capable worker.
func (r *Registry) FirstLocal() (Worker, bool) {
	locals := r.LocalWorkers()
	if len(locals) == 0 {
		return Worker{}, false
	}
	return locals[0], true
}

func tierRank(t Tier) int {
	switch t {
	case TierFast:
		return 0
	case TierBalanced:
		return 1
	case TierDeep:
		return 2
	}
	return 3
}

// DefaultWorkers returns a built-in worker set used when no registry file
// is configured. Mirrors a typical local/cloud split.
func DefaultWorkers() []Worker {
	return []Worker{
		{ID: "local-fast", Name: "Local Fast", Provider: "local", Tier: TierFast, LocalCapable: true, UncertaintySafe: true},
		{ID: "local-balanced", Name: "Local Balanced", Provider: "local", Tier: TierBalanced, LocalCapable: true, UncertaintySafe: true},
		{ID: "cloud-balanced", Name: "Cloud Balanced", Provider: "cloud", Tier: TierBalanced, UncertaintySafe: true},
		{ID: "cloud-deep", Name: "Cloud Deep", Provider: "cloud", Tier: TierDeep},
	}
}

// NewDefaultRegistry creates a registry with built-in defaults.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultWorkers())
}
