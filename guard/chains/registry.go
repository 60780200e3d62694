package chains

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrUnsupportedNetwork is returned when no driver is registered for a network.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Registry maps network names to their drivers. One instance is built at startup and passed to
// every component that talks to a chain.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
		logger:  logger.With().Str("component", "chain_registry").Logger(),
	}
}

// Register adds the driver for a network. A network can only be registered once.
func (r *Registry) Register(network string, driver Driver) error {
	if network == "" || driver == nil {
		return errors.New("invalid driver registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[network]; exists {
		return errors.Errorf("driver for network %s already registered", network)
	}
	r.drivers[network] = driver
	r.logger.Info().Str("network", network).Msg("registered chain driver")
	return nil
}

// Get returns the driver of a network.
func (r *Registry) Get(network string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[network]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedNetwork, network)
	}
	return driver, nil
}

// Has reports whether a network has a driver.
func (r *Registry) Has(network string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drivers[network]
	return ok
}

// Networks returns the registered network names in sorted order.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.drivers))
	for network := range r.drivers {
		out = append(out, network)
	}
	sort.Strings(out)
	return out
}
