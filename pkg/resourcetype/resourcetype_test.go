package resourcetype

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeStore struct{ kind string }

func (f fakeStore) Get(context.Context, string) (*models.Resource, error) { return nil, nil }
func (f fakeStore) Delete(context.Context, string) error                 { return nil }
func (f fakeStore) SearchManaged(context.Context) ([]models.Resource, error) {
	return nil, nil
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry([]string{"Patient", " Practitioner", "", "Patient"}, nil)

	assert.Equal(t, []string{"Patient", "Practitioner"}, r.Supported())

	tests := []struct {
		kind    string
		wantErr string
	}{
		{"Patient", ""},
		{"Practitioner", ""},
		{"Observation", "$mdm-clear does not support resource type: Observation"},
		{"patient", "$mdm-clear does not support resource type: patient"},
		{"", "$mdm-clear does not support resource type: "},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := r.Validate(tt.kind)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, httperror.IsBadRequest(err))
			assert.Equal(t, tt.wantErr, httperror.ToHTTPError(err).Message)
		})
	}
}

func TestRegistry_ValidateForLinking(t *testing.T) {
	r := NewRegistry([]string{"Patient"}, nil)

	require.NoError(t, r.ValidateForLinking("Patient"))

	err := r.ValidateForLinking("Device")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Equal(t, "resource type Device is not supported by MDM", httperror.ToHTTPError(err).Message)
}

func TestRegistry_StoreFor(t *testing.T) {
	r := NewRegistry([]string{"Patient", "Practitioner"}, func(kind string) Store {
		return fakeStore{kind: kind}
	})

	store, err := r.StoreFor("Practitioner")
	require.NoError(t, err)
	assert.Equal(t, "Practitioner", store.(fakeStore).kind)

	_, err = r.StoreFor("Observation")
	assert.True(t, httperror.IsBadRequest(err))

	unbound := NewRegistry([]string{"Patient"}, nil)
	_, err = unbound.StoreFor("Patient")
	assert.True(t, httperror.IsServiceUnavailable(err))
}
