package identity

import (
	"fmt"
	"strings"
)

// Kind names the identity source an Owner came from.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindSecondary Kind = "secondary"
)

// Owner is exactly one of Primary(id) or Secondary(id). The zero value is no owner.
// The two id spaces are disjoint: owners only compare equal when both kind and id match.
type Owner struct {
	kind Kind
	id   string
}

func Primary(id string) Owner   { return Owner{kind: KindPrimary, id: id} }
func Secondary(id string) Owner { return Owner{kind: KindSecondary, id: id} }

func (o Owner) Kind() Kind     { return o.kind }
func (o Owner) ID() string     { return o.id }
func (o Owner) IsZero() bool   { return o.kind == "" || o.id == "" }
func (o Owner) String() string { return string(o.kind) + ":" + o.id }

func (o Owner) Equal(other Owner) bool {
	return o.kind == other.kind && o.id == other.id
}

// Columns splits the owner into the nullable primary/secondary storage columns.
func (o Owner) Columns() (primary, secondary *string) {
	id := o.id
	switch o.kind {
	case KindPrimary:
		return &id, nil
	case KindSecondary:
		return nil, &id
	default:
		return nil, nil
	}
}

// FromColumns is the inverse of Columns. Exactly one side must be set.
func FromColumns(primary, secondary *string) (Owner, error) {
	switch {
	case primary != nil && secondary == nil && *primary != "":
		return Primary(*primary), nil
	case secondary != nil && primary == nil && *secondary != "":
		return Secondary(*secondary), nil
	default:
		return Owner{}, fmt.Errorf("identity: row must carry exactly one owner id")
	}
}

// ParseOwner parses the "kind:id" form produced by String.
func ParseOwner(s string) (Owner, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Owner{}, fmt.Errorf("identity: malformed owner %q", s)
	}
	switch Kind(kind) {
	case KindPrimary:
		return Primary(id), nil
	case KindSecondary:
		return Secondary(id), nil
	default:
		return Owner{}, fmt.Errorf("identity: unknown owner kind %q", kind)
	}
}
