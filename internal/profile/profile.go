// Package profile resolves an opaque user identity to display metadata.
// It is the only suspending collaborator of the matching core: lookups run
// after state mutations and their failures only degrade notifications.
package profile

import (
	"context"
	"errors"

	"github.com/dkeye/Mingle/internal/domain"
)

var ErrNotFound = errors.New("profile not found")

type Directory interface {
	Lookup(ctx context.Context, uid domain.UserID) (*domain.Profile, error)
}
