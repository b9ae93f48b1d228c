package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/enums"
)

var (
	// ErrSentinelRef marks carrier test payloads that must be acknowledged untouched.
	ErrSentinelRef = errors.New("sentinel order reference")
	ErrUnknownRef  = errors.New("unrecognised order reference")
)

// Ref addresses one order in the table that owns it.
type Ref struct {
	Kind enums.OrderKind
	ID   uuid.UUID
}

func StandardRef(id uuid.UUID) Ref { return Ref{Kind: enums.OrderKindStandard, ID: id} }
func CustomRef(id uuid.UUID) Ref   { return Ref{Kind: enums.OrderKindCustom, ID: id} }

func (r Ref) IsZero() bool { return r.ID == uuid.Nil }

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// RefCodec renders and parses the {PREFIX}-{uuid} reference sent to the carrier.
type RefCodec struct {
	standard string
	custom   string
}

func NewRefCodec(standardPrefix, customPrefix string) RefCodec {
	standard := strings.ToUpper(strings.TrimSpace(standardPrefix))
	if standard == "" {
		standard = "ORD"
	}
	custom := strings.ToUpper(strings.TrimSpace(customPrefix))
	if custom == "" {
		custom = "CUS"
	}
	return RefCodec{standard: standard, custom: custom}
}

func (c RefCodec) Format(ref Ref) string {
	prefix := c.standard
	if ref.Kind == enums.OrderKindCustom {
		prefix = c.custom
	}
	return prefix + "-" + ref.ID.String()
}

// Parse resolves a carrier order reference. Sentinel payloads return
// ErrSentinelRef; anything else that is not ours returns ErrUnknownRef.
func (c RefCodec) Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if IsSentinel(raw) {
		return Ref{}, ErrSentinelRef
	}
	prefix, rest, ok := strings.Cut(raw, "-")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrUnknownRef, raw)
	}
	var kind enums.OrderKind
	switch strings.ToUpper(prefix) {
	case c.standard:
		kind = enums.OrderKindStandard
	case c.custom:
		kind = enums.OrderKindCustom
	default:
		return Ref{}, fmt.Errorf("%w: prefix %q", ErrUnknownRef, prefix)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrUnknownRef, err)
	}
	return Ref{Kind: kind, ID: id}, nil
}

// IsSentinel reports carrier test payloads: a missing reference or one
// carrying a "test" marker.
func IsSentinel(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "" || strings.Contains(strings.ToLower(raw), "test")
}
