// Package identity turns login payloads into canonical users, either
// locally from a chosen username or through a delegated provider.
package identity

import (
	"context"
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/segmentio/ksuid"
	"github.com/zeebo/blake3"
)

const (
	MaxUsernameRunes = 32
	MaxIDBytes       = 64

	defaultSaturation = 50
	defaultLightness  = 50
)

// ProviderIdentity is what a delegated provider knows about a token holder.
type ProviderIdentity struct {
	ProviderID  string
	DisplayName string
}

// Provider exchanges an opaque token for an identity.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, token string) (ProviderIdentity, error)
}

type Resolver struct {
	policy   *bluemonday.Policy
	provider Provider
	newID    func() string
}

// NewResolver returns a Resolver. provider may be nil, in which case
// token logins fail with ErrIdentityProvider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{
		policy:   bluemonday.StrictPolicy(),
		provider: provider,
		newID:    func() string { return ksuid.New().String() },
	}
}

// Delegated reports whether req has to go through the provider.
func (r *Resolver) Delegated(req LoginRequest) bool {
	return req.Token != ""
}

// Resolve dispatches to the delegated or local path. The delegated path
// may block on the network; callers keep it off their event loop.
func (r *Resolver) Resolve(ctx context.Context, req LoginRequest) (User, error) {
	if r.Delegated(req) {
		return r.ResolveDelegated(ctx, req)
	}
	return r.ResolveLocal(req)
}

func (r *Resolver) ResolveLocal(req LoginRequest) (User, error) {
	username := r.SanitizeUsername(req.Username)
	if username == "" {
		return User{}, ErrInvalidUsername
	}

	id := r.sanitizeID(req.ID)
	if id == "" {
		id = r.newID()
	}

	return User{ID: id, Username: username, Color: pickColor(id, req.Color)}, nil
}

func (r *Resolver) ResolveDelegated(ctx context.Context, req LoginRequest) (User, error) {
	if r.provider == nil {
		return User{}, &ProviderError{Provider: "identity", Err: errNoProvider}
	}

	pi, err := r.provider.Lookup(ctx, req.Token)
	if err != nil {
		return User{}, &ProviderError{Provider: r.provider.Name(), Err: err}
	}

	username := r.SanitizeUsername(pi.DisplayName)
	if pi.ProviderID == "" || username == "" {
		return User{}, &ProviderError{Provider: r.provider.Name(), Err: errMalformedIdentity}
	}

	id := r.provider.Name() + ":" + pi.ProviderID
	return User{ID: id, Username: username, Color: pickColor(id, req.Color)}, nil
}

// SanitizeUsername strips markup and control characters and trims the
// result. An empty return means the name is unusable.
func (r *Resolver) SanitizeUsername(s string) string {
	s = r.policy.Sanitize(stripControl(s))
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxUsernameRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxUsernameRunes]))
	}
	return s
}

// sanitizeID accepts a client-held id so a returning browser keeps its
// record. Ids in a provider namespace are never accepted from clients.
func (r *Resolver) sanitizeID(s string) string {
	s = strings.TrimSpace(r.policy.Sanitize(stripControl(s)))
	if s == "" || len(s) > MaxIDBytes || strings.Contains(s, ":") {
		return ""
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.C, r) {
			return -1
		}
		return r
	}, s)
}

func pickColor(id string, requested *Color) Color {
	if requested != nil {
		return requested.clamped()
	}
	sum := blake3.Sum256([]byte(id))
	hue := float64(binary.BigEndian.Uint16(sum[:2])) * 360 / 65536
	return Color{H: hue, S: defaultSaturation, L: defaultLightness}
}
