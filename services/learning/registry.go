// Package learning wires the vendor adapters behind the integration
// capability interfaces.
package learning

import (
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/services/learning/coursera"
	"github.com/trezcool/shule/services/learning/pluralsight"
	"github.com/trezcool/shule/services/learning/udemy"
)

// Registry maps a platform identifier to its singleton adapter instance.
// Adapters are stateless aside from constants, so sharing one instance per
// platform is safe.
type Registry struct {
	adapters map[integration.Platform]integration.Adapter
}

var _ integration.AdapterRegistry = (*Registry)(nil)

func NewRegistry(logger core.Logger) *Registry {
	return &Registry{
		adapters: map[integration.Platform]integration.Adapter{
			integration.PlatformCoursera:    coursera.New(logger),
			integration.PlatformUdemy:       udemy.New(logger),
			integration.PlatformPluralsight: pluralsight.New(logger),
		},
	}
}

func (r *Registry) GetAdapter(platform integration.Platform) (integration.Adapter, error) {
	if adapter, ok := r.adapters[platform]; ok {
		return adapter, nil
	}
	return nil, integration.NewUnsupportedPlatformError(string(platform))
}
