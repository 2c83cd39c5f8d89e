// Package registry maps error domains to concrete Go error types so that
// errors can cross a process boundary and come back as the same type.
//
// Every error sent to a peer is boxed:
//
//	BoxedError{Domain, Code, Message, Inner}
//
// Inner carries the encoded error value only when its type is registered (or
// implements codec.Marshaler) and encoding succeeds. On the receiving side a
// registered domain with a decodable Inner yields the concrete error again;
// anything else yields the *BoxedError itself. A received error is never
// dropped, only down-leveled to domain + code.
package registry

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry holds the domain → type table. One RWMutex guards both directions
// of the mapping; registration and lookup are safe from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]reflect.Type // domain → registered type
	domains map[reflect.Type]string // registered type → domain
}

// New returns a registry holding only the built-in dispatch error domains.
func New() *Registry {
	r := &Registry{
		types:   make(map[string]reflect.Type),
		domains: make(map[reflect.Type]string),
	}
	r.Register((*HandlerNotFoundError)(nil))
	r.Register((*ConnectionInvalidError)(nil))
	r.Register((*HandlerPanicError)(nil))
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry. It is created on first use and
// lives for the rest of the process.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Register records the concrete type of sample under its canonical name.
// sample is used only for its type; a typed nil pointer is fine.
func (r *Registry) Register(sample error) {
	r.RegisterDomain("", sample)
}

// RegisterDomain records the concrete type of sample under domain, replacing
// any earlier mapping for that domain. An empty domain means the type's
// canonical name. It panics if sample is an untyped nil.
func (r *Registry) RegisterDomain(domain string, sample error) {
	if sample == nil {
		panic("registry: Register of nil error")
	}
	r.registerType(domain, reflect.TypeOf(sample))
}

// RegisterType registers E under its canonical name.
func RegisterType[E error](r *Registry) {
	r.registerType("", reflect.TypeFor[E]())
}

func (r *Registry) registerType(domain string, t reflect.Type) {
	if t.Kind() == reflect.Interface {
		panic(fmt.Sprintf("registry: cannot register interface type %v", t))
	}
	if domain == "" {
		domain = TypeName(t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.types[domain]; ok && r.domains[old] == domain {
		delete(r.domains, old)
	}
	r.types[domain] = t
	r.domains[t] = domain
}

// Lookup returns the type registered under domain.
func (r *Registry) Lookup(domain string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[domain]
	return t, ok
}

// domainOf returns the domain an error of type t is boxed under and whether
// the type is registered.
func (r *Registry) domainOf(t reflect.Type) (string, bool) {
	r.mu.RLock()
	d, ok := r.domains[t]
	r.mu.RUnlock()
	if ok {
		return d, true
	}
	return TypeName(t), false
}

// TypeName returns the canonical name of t: "import/path.Name", looking
// through pointers. Unnamed types fall back to their Go syntax.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
