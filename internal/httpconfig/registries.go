package httpconfig

import "github.com/AlexLonberg/js-api-router/internal/registry"

// MiddlewareRegistry resolves string-named middleware references.
type MiddlewareRegistry = registry.Registry[Middleware]

// ContextFactoryRegistry resolves string-named context factories.
type ContextFactoryRegistry = registry.Registry[ContextFactory]

// ConfigClassRegistry resolves string-named base EndpointOptions (the
// "kind" that selects a config class, spec §3).
type ConfigClassRegistry = registry.Registry[EndpointOptions]

// PresetRegistry resolves string-named presets.
type PresetRegistry = registry.Registry[Preset]

// Registries bundles the four freezable registries the composer consults.
type Registries struct {
	Middleware     *MiddlewareRegistry
	ContextFactory *ContextFactoryRegistry
	ConfigClass    *ConfigClassRegistry
	Preset         *PresetRegistry
}

// NewRegistries builds an empty set of the four registries.
func NewRegistries() *Registries {
	return &Registries{
		Middleware:     registry.New[Middleware](),
		ContextFactory: registry.New[ContextFactory](),
		ConfigClass:    registry.New[EndpointOptions](),
		Preset:         registry.New[Preset](),
	}
}

// Freeze freezes all four registries; call once wiring is complete.
func (r *Registries) Freeze() {
	r.Middleware.Freeze()
	r.ContextFactory.Freeze()
	r.ConfigClass.Freeze()
	r.Preset.Freeze()
}
