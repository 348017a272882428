package settlement

import (
	"fmt"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
)

type routeKey struct {
	blockchain entities.Blockchain
	currency   entities.Currency
}

// Registry maps (blockchain, currency) routes to adapters. It is populated
// once at startup and read-only afterwards.
type Registry struct {
	adapters map[routeKey]Adapter
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[routeKey]Adapter, len(adapters))}
	for _, a := range adapters {
		blockchain, currency := a.Route()
		key := routeKey{blockchain, currency}
		if _, exists := r.adapters[key]; exists {
			return nil, fmt.Errorf("duplicate adapter for route %s/%s", blockchain, currency)
		}
		r.adapters[key] = a
	}
	return r, nil
}

// Resolve returns the adapter for a route
func (r *Registry) Resolve(blockchain entities.Blockchain, currency entities.Currency) (Adapter, error) {
	a, ok := r.adapters[routeKey{blockchain, currency}]
	if !ok {
		return nil, domainerrors.UnsupportedRouteError(string(blockchain), string(currency))
	}
	return a, nil
}

// Routes lists all registered routes
func (r *Registry) Routes() []string {
	routes := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		routes = append(routes, fmt.Sprintf("%s/%s", key.blockchain, key.currency))
	}
	return routes
}
