// Package resourcetype holds the set of resource types that participate in MDM and maps each
// one to the store that owns its records.
package resourcetype

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Store is the storage collaborator for one resource type.
type Store interface {
	Get(ctx context.Context, id string) (*models.Resource, error)
	Delete(ctx context.Context, id string) error
	SearchManaged(ctx context.Context) ([]models.Resource, error)
}

type Registry struct {
	kinds  []string
	stores map[string]Store
}

// NewRegistry registers kinds in order. factory may be nil when only validation is needed.
func NewRegistry(kinds []string, factory func(kind string) Store) *Registry {
	r := &Registry{stores: make(map[string]Store, len(kinds))}
	for _, kind := range kinds {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		if _, ok := r.stores[kind]; ok {
			continue
		}
		r.kinds = append(r.kinds, kind)
		var store Store
		if factory != nil {
			store = factory(kind)
		}
		r.stores[kind] = store
	}
	return r
}

func (r *Registry) Supported() []string {
	return append([]string(nil), r.kinds...)
}

func (r *Registry) IsSupported(kind string) bool {
	_, ok := r.stores[kind]
	return ok
}

// Validate rejects kinds outside the registry for a clear operation.
func (r *Registry) Validate(kind string) error {
	if r.IsSupported(kind) {
		return nil
	}
	return httperror.NewHTTPErrorf(http.StatusBadRequest, "$mdm-clear does not support resource type: %s", kind).
		AddMetaValue("supported_resource_types", r.Supported())
}

// ValidateForLinking rejects kinds outside the registry for link and resource operations.
func (r *Registry) ValidateForLinking(kind string) error {
	if r.IsSupported(kind) {
		return nil
	}
	return httperror.NewHTTPErrorf(http.StatusBadRequest, "resource type %s is not supported by MDM", kind).
		AddMetaValue("supported_resource_types", r.Supported())
}

// StoreFor returns the store registered for kind.
func (r *Registry) StoreFor(kind string) (Store, error) {
	if err := r.ValidateForLinking(kind); err != nil {
		return nil, err
	}
	store := r.stores[kind]
	if store == nil {
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("no store registered for resource type %s", kind))
	}
	return store, nil
}
