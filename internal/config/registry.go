package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// ErrBackendNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// Registry maps audio backend names to constructors. Backends that need cgo
// register themselves from build-tagged files. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]func(AudioConfig) (audio.Device, error)
	players map[string]func(AudioConfig) (audio.Player, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]func(AudioConfig) (audio.Device, error)),
		players: make(map[string]func(AudioConfig) (audio.Player, error)),
	}
}

// RegisterDevice registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterPlayer registers an answer player factory under name.
func (r *Registry) RegisterPlayer(name string, factory func(AudioConfig) (audio.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[name] = factory
}

// CreateDevice instantiates the capture device named by cfg.Backend.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %q (available: %v)", ErrBackendNotRegistered, cfg.Backend, r.DeviceNames())
	}
	return factory(cfg)
}

// CreatePlayer instantiates the player named by cfg.Player.
func (r *Registry) CreatePlayer(cfg AudioConfig) (audio.Player, error) {
	r.mu.RLock()
	factory, ok := r.players[cfg.Player]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: player %q (available: %v)", ErrBackendNotRegistered, cfg.Player, r.PlayerNames())
	}
	return factory(cfg)
}

// DeviceNames returns the registered device names, sorted.
func (r *Registry) DeviceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.devices)
}

// PlayerNames returns the registered player names, sorted.
func (r *Registry) PlayerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.players)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
