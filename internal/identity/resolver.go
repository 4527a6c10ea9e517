package identity

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrSourceUnavailable = errors.New("identity source unavailable")
)

// Source extracts a principal from one identity system.
// An absent or invalid credential yields "" and a nil error; errors are reserved for
// the source itself failing.
type Source interface {
	Principal(r *http.Request) (string, error)
}

// Resolver reconciles the primary account system and the social-login system into one Owner.
type Resolver struct {
	primary   Source
	secondary Source
}

// NewResolver builds a resolver. Either source may be nil when that system is not deployed.
func NewResolver(primary, secondary Source) *Resolver {
	return &Resolver{primary: primary, secondary: secondary}
}

// Resolve checks the primary source first and falls back to the secondary one.
func (res *Resolver) Resolve(r *http.Request) (Owner, error) {
	if res.primary != nil {
		id, err := res.primary.Principal(r)
		if err != nil {
			return Owner{}, err
		}
		if id != "" {
			return Primary(id), nil
		}
	}

	if res.secondary != nil {
		id, err := res.secondary.Principal(r)
		if err != nil {
			return Owner{}, err
		}
		if id != "" {
			return Secondary(id), nil
		}
	}

	return Owner{}, ErrUnauthenticated
}

type ownerKey struct{}

func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, o)
}

// OwnerFrom returns the owner stored by WithOwner.
func OwnerFrom(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(Owner)
	if !ok || o.IsZero() {
		return Owner{}, false
	}
	return o, true
}
