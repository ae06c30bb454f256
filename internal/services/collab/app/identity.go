package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
)

const (
	tokenCookieName = "drawroom_token"
	tokenQueryParam = "token"
)

// Identity is who a connection claims to be. The zero value is anonymous.
type Identity struct {
	UserID   string
	Name     string
	Consumer string
	CourseID string
	Staff    bool
	Rooms    []string
}

// Known reports whether the identity names a user.
func (i Identity) Known() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// IdentityProvider resolves and authorizes connection identities.
type IdentityProvider interface {
	Identify(ctx context.Context, r *http.Request) (Identity, error)
	IsAuthenticated(ctx context.Context, identity Identity) (bool, error)
	IsAuthorized(ctx context.Context, identity Identity, room storage.Room) (bool, error)
	IsPrivilegedObserver(ctx context.Context, identity Identity) (bool, error)
	DisplayName(ctx context.Context, identity Identity) (string, error)
}

type launchClaims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name,omitempty"`
	Staff    bool     `json:"staff,omitempty"`
	Rooms    []string `json:"rooms,omitempty"`
	Consumer string   `json:"consumer,omitempty"`
	Course   string   `json:"course,omitempty"`
}

// launchTokenProvider trusts HS256 launch tokens signed with a shared
// secret. Without a secret every connection is anonymous.
type launchTokenProvider struct {
	secret []byte
	now    func() time.Time
}

func newLaunchTokenProvider(secret string, now func() time.Time) *launchTokenProvider {
	if now == nil {
		now = time.Now
	}
	return &launchTokenProvider{secret: []byte(strings.TrimSpace(secret)), now: now}
}

var errLaunchTokenExpired = errors.New("launch token is expired")

// Identify reads the launch token from the cookie or the token query
// parameter. A missing token is anonymous without error.
func (p *launchTokenProvider) Identify(_ context.Context, r *http.Request) (Identity, error) {
	if p == nil || len(p.secret) == 0 {
		return Identity{}, nil
	}
	token := launchTokenFromRequest(r)
	if token == "" {
		return Identity{}, nil
	}

	var claims launchClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("parse launch token: %w", err)
	}
	now := p.now().UTC()
	if claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(now) {
		return Identity{}, errLaunchTokenExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return Identity{}, errors.New("launch token is not active yet")
	}

	rooms := make([]string, 0, len(claims.Rooms))
	for _, room := range claims.Rooms {
		if room = strings.TrimSpace(room); room != "" {
			rooms = append(rooms, room)
		}
	}
	return Identity{
		UserID:   strings.TrimSpace(claims.Subject),
		Name:     strings.TrimSpace(claims.Name),
		Consumer: strings.TrimSpace(claims.Consumer),
		CourseID: strings.TrimSpace(claims.Course),
		Staff:    claims.Staff,
		Rooms:    rooms,
	}, nil
}

func (p *launchTokenProvider) IsAuthenticated(_ context.Context, identity Identity) (bool, error) {
	return identity.Known(), nil
}

// IsAuthorized grants staff every room, and others the rooms listed in their
// token or rooms opened from their consumer.
func (p *launchTokenProvider) IsAuthorized(_ context.Context, identity Identity, room storage.Room) (bool, error) {
	if !identity.Known() {
		return false, nil
	}
	if identity.Staff {
		return true, nil
	}
	if slices.Contains(identity.Rooms, room.Name) {
		return true, nil
	}
	return room.Consumer != "" && room.Consumer == identity.Consumer, nil
}

func (p *launchTokenProvider) IsPrivilegedObserver(_ context.Context, identity Identity) (bool, error) {
	return identity.Known() && identity.Staff, nil
}

func (p *launchTokenProvider) DisplayName(_ context.Context, identity Identity) (string, error) {
	if identity.Name != "" {
		return identity.Name, nil
	}
	return identity.UserID, nil
}

func launchTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(tokenQueryParam))
}

var _ IdentityProvider = (*launchTokenProvider)(nil)
