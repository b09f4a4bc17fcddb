// Package server assembles the MDM services and the HTTP surface that exposes them.
package server

import (
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/pkg/clear"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/golden"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
)

// Dependencies are the infrastructure the services run on. Publisher and Graph may be nil.
type Dependencies struct {
	Config    config.Config
	DB        database.DB
	Logger    ectologger.Logger
	Locker    keylock.Locker
	Publisher events.Publisher
	Graph     *graph.Client
}

type Services struct {
	Resources *resource.Repository
	Links     *link.Repository
	Registry  *resourcetype.Registry
	Golden    *golden.Manager
	Linking   *linking.Service
	Clearer   *clear.Clearer
}

func NewServices(deps Dependencies) (*Services, error) {
	cfg := deps.Config
	isolation, err := database.ParseIsolation(cfg.MDMClearIsolation)
	if err != nil {
		return nil, err
	}

	locker := deps.Locker
	if locker == nil {
		locker = keylock.NewLocal()
	}

	var projector *graph.Projector
	if deps.Graph != nil {
		projector = graph.NewProjector(deps.Graph, deps.Logger)
	}
	emitter := events.NewEmitter(deps.Publisher, deps.Logger)

	resources := resource.NewRepository(deps.DB, deps.Logger)
	links := link.NewRepository(deps.DB, deps.Logger)
	registry := resourcetype.NewRegistry(cfg.MDMResourceTypes, resources.Scoped)
	goldenManager := golden.NewManager(deps.Logger, links, resources, registry, emitter, projector)
	matcher, err := linking.NewFieldMatcher(cfg.MDMMatchFields)
	if err != nil {
		return nil, err
	}

	return &Services{
		Resources: resources,
		Links:     links,
		Registry:  registry,
		Golden:    goldenManager,
		Linking: linking.NewService(
			deps.Logger,
			links,
			resources,
			registry,
			goldenManager,
			locker,
			matcher,
			emitter,
			projector,
		),
		Clearer: clear.NewClearer(deps.Logger, links, registry, goldenManager, emitter, projector, clear.Config{
			Isolation: isolation,
			Timeout:   cfg.MDMClearTimeout,
		}),
	}, nil
}

// Register makes the services resolvable by route handlers
func (s *Services) Register(container ectocontainer.DIContainer) error {
	if err := ectoinject.RegisterInstance[*resource.Repository](container, s.Resources); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*link.Repository](container, s.Links); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*resourcetype.Registry](container, s.Registry); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*golden.Manager](container, s.Golden); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*linking.Service](container, s.Linking); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*clear.Clearer](container, s.Clearer)
}
