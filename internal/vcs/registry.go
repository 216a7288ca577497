package vcs

import (
	"fmt"
	"sync"
)

// Constructor creates a Repo rooted at the given path. Implementations
// register themselves with Register() from their init() functions.
type Constructor func(root string) (Repo, error)

var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, New)
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// Open creates a Repo of the given backend type rooted at path.
func Open(t Type, root string) (Repo, error) {
	registryMutex.RLock()
	constructor := registry[t]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("no registered constructor for VCS type %s (available: %v)", t, RegisteredTypes())
	}

	repo, err := constructor(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s repository at %s: %w", t, root, err)
	}
	return repo, nil
}

// IsRegistered returns true if a constructor is registered for the type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered backend types.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}
