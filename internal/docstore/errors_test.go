package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	ref := DocRef{Collection: "seats", ID: "R3-2"}

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", NotFound(ref), common.ErrNotFound},
		{"already exists", AlreadyExists(ref), common.ErrAlreadyExists},
		{"aborted", Aborted(5, errors.New("busy")), common.ErrContention},
		{"unavailable", Unavailable(errors.New("dial")), common.ErrNetwork},
		{"permission", status.Error(codes.PermissionDenied, "rules"), common.ErrNetwork},
		{"plain", errors.New("boom"), common.ErrNetwork},
		{"canceled", context.Canceled, common.ErrNetwork},
		{"wrapped status", fmt.Errorf("get: %w", NotFound(ref)), common.ErrNotFound},
		{"invalid", status.Error(codes.InvalidArgument, "bad path"), common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			require.ErrorIs(t, got, tt.want)
			require.ErrorIs(t, got, tt.in)
		})
	}
}

func TestClassify_PassesTaxonomyThrough(t *testing.T) {
	require.Nil(t, Classify(nil))
	require.Same(t, common.ErrStaleBid, Classify(common.ErrStaleBid))
}

func TestIsHelpers(t *testing.T) {
	ref := DocRef{Collection: "c", ID: "1"}
	require.True(t, IsNotFound(NotFound(ref)))
	require.True(t, IsAlreadyExists(AlreadyExists(ref)))
	require.True(t, IsAborted(Aborted(1, nil)))
	require.False(t, IsNotFound(errors.New("x")))
	require.Equal(t, "c/1", ref.String())
}
