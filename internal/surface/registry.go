package surface

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

var (
	ErrGroupExists   = errors.New("group already registered")
	ErrGroupNotFound = errors.New("group not found")
)

// Registry publishes attribute groups by name, the way sysfs publishes
// governor tunables as directories of files.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]governor.Attributes
	log    logr.Logger
}

var _ governor.Surface = &Registry{}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]governor.Attributes),
		log:    ctrl.Log.WithName("surface"),
	}
}

func (r *Registry) Register(group string, attrs governor.Attributes) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[group]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, group)
	}
	r.groups[group] = attrs
	r.log.V(4).Info("group registered", "group", group)

	return nil
}

func (r *Registry) Unregister(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups, group)
	r.log.V(4).Info("group unregistered", "group", group)
}

// Groups returns the registered group names in order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]string, 0, len(r.groups))
	for group := range r.groups {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	return groups
}

// Lookup returns the attributes registered under group.
func (r *Registry) Lookup(group string) (governor.Attributes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attrs, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	return attrs, nil
}

// Snapshot reads every attribute of group.
func (r *Registry) Snapshot(group string) (map[string]string, error) {
	attrs, err := r.Lookup(group)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(attrs.Keys()))
	for _, key := range attrs.Keys() {
		value, err := attrs.Get(key)
		if err != nil {
			return nil, err
		}
		values[key] = value
	}

	return values, nil
}
