package bowtie

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jon077/bowtie/internal/singleflight"
)

// Registry maps method ids to declarations and memoizes their compiled
// descriptors. Entries are never removed. It is safe for concurrent use.
type Registry struct {
	specs       sync.Map // string -> MethodSpec
	descriptors sync.Map // string -> *Descriptor
	compiles    *singleflight.Group[string, *Descriptor]
}

// DefaultRegistry is the process-wide registry used by clients built without
// WithRegistry.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{compiles: singleflight.New[string, *Descriptor]()}
}

// Register adds declarations. Each is validated eagerly with Compile but the
// descriptor is only memoized on first use. A duplicate id is an error and
// leaves the earlier declaration in place.
func (r *Registry) Register(specs ...MethodSpec) error {
	for _, spec := range specs {
		if _, err := Compile(spec); err != nil {
			return err
		}
		if _, loaded := r.specs.LoadOrStore(spec.ID, spec); loaded {
			return configError(spec.ID, "method %q is already registered", spec.ID)
		}
	}
	return nil
}

// MustRegister is Register that panics on error. Intended for package-level
// var blocks of hand-written wrappers.
func (r *Registry) MustRegister(specs ...MethodSpec) {
	if err := r.Register(specs...); err != nil {
		panic(fmt.Sprintf("bowtie: %v", err))
	}
}

// Descriptor returns the compiled descriptor for id, compiling it on first
// use. Concurrent first calls share one compilation.
func (r *Registry) Descriptor(id string) (*Descriptor, error) {
	return r.descriptor(id, nil)
}

func (r *Registry) descriptor(id string, onCompile func(id string)) (*Descriptor, error) {
	if d, ok := r.descriptors.Load(id); ok {
		return d.(*Descriptor), nil
	}

	d, err, _ := r.compiles.Do(id, func() (*Descriptor, error) {
		if d, ok := r.descriptors.Load(id); ok {
			return d.(*Descriptor), nil
		}
		spec, ok := r.specs.Load(id)
		if !ok {
			return nil, &ClientError{
				Type:    ErrorTypeUnknownMethod,
				Message: fmt.Sprintf("no method registered as %q", id),
				Method:  id,
			}
		}

		d, err := Compile(spec.(MethodSpec))
		if err != nil {
			return nil, err
		}
		if onCompile != nil {
			onCompile(id)
		}
		actual, _ := r.descriptors.LoadOrStore(id, d)
		return actual.(*Descriptor), nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// IDs lists registered method ids in sorted order.
func (r *Registry) IDs() []string {
	var ids []string
	r.specs.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Spec returns the declaration registered under id.
func (r *Registry) Spec(id string) (MethodSpec, bool) {
	s, ok := r.specs.Load(id)
	if !ok {
		return MethodSpec{}, false
	}
	return s.(MethodSpec), true
}
