// Package registry provides the process-wide, frozen-after-startup mapping
// from (category, name) to a constructor (spec §3 Registry, §4.1). A
// Registry is built with New and populated at startup by explicit Register
// calls (such as builtin.Register(reg)), then only read for the lifetime of
// a serving process.
package registry

import (
	"fmt"
	"sync"

	"github.com/flowllm-ai/flowllm/flowerr"
)

// Category is one of the registrable kinds the spec names.
type Category string

const (
	CategoryOp           Category = "op"
	CategoryLLM          Category = "llm"
	CategoryEmbedding    Category = "embedding"
	CategoryVectorStore  Category = "vector_store"
	CategoryTokenCounter Category = "token_counter"
)

// DefaultName is the well-known name the "default" resolver for
// LLM/EmbeddingModel/VectorStore falls back to (spec §4.1).
const DefaultName = "default"

// Ctor is a constructor for any registrable kind. It returns `any` because
// the concrete return type varies by Category; callers type-assert to the
// interface they expect (op.Op, capability.LLM, capability.EmbeddingModel,
// capability.VectorStore, capability.TokenCounter).
type Ctor func() (any, error)

type key struct {
	category Category
	name     string
}

// Registry is the process-wide name→constructor index. The zero value is
// not usable; construct with New.
type Registry struct {
	mu    sync.RWMutex
	ctors map[key]Ctor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{ctors: make(map[key]Ctor)}
}

// Register adds a constructor under (category, name). Registering a
// duplicate (category, name) pair fails; name lookup is case-sensitive
// (spec §4.1).
func (r *Registry) Register(category Category, name string, ctor Ctor) error {
	if name == "" {
		return flowerr.New(flowerr.KindDeterministic, "registry: name must not be empty")
	}
	if ctor == nil {
		return flowerr.New(flowerr.KindDeterministic, "registry: ctor must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{category: category, name: name}
	if _, dup := r.ctors[k]; dup {
		return flowerr.New(flowerr.KindDeterministic, "registry: duplicate registration for %s/%s", category, name)
	}
	r.ctors[k] = ctor
	return nil
}

// MustRegister panics on registration failure. Used for startup
// registration, where a duplicate or malformed registration is a
// programming error.
func (r *Registry) MustRegister(category Category, name string, ctor Ctor) {
	if err := r.Register(category, name, ctor); err != nil {
		panic(fmt.Sprintf("registry: MustRegister failed: %v", err))
	}
}

// Resolve looks up the constructor for (category, name) and invokes it. An
// unregistered name returns a *flowerr.Error classified per category
// (UnknownOp for CategoryOp, UnknownResource otherwise).
func (r *Registry) Resolve(category Category, name string) (any, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[key{category: category, name: name}]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownErr(category, name)
	}
	return ctor()
}

// ResolveDefault resolves the constructor registered under DefaultName for
// category, failing if no default has been registered (spec §4.1).
func (r *Registry) ResolveDefault(category Category) (any, error) {
	return r.Resolve(category, DefaultName)
}

// Has reports whether a constructor is registered under (category, name)
// without invoking it. The parser does not call it: it resolves
// Op-constructor identifiers with Resolve, which reports UnknownOp.
func (r *Registry) Has(category Category, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[key{category: category, name: name}]
	return ok
}

// Names returns every name registered under category, for diagnostics and
// schema generation. Order is unspecified.
func (r *Registry) Names(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.ctors {
		if k.category == category {
			names = append(names, k.name)
		}
	}
	return names
}

func unknownErr(category Category, name string) error {
	if category == CategoryOp {
		return flowerr.New(flowerr.KindUnknownOp, "registry: unknown op %q", name)
	}
	return flowerr.New(flowerr.KindUnknownResource, "registry: unknown %s %q", category, name)
}
