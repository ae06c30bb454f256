package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/stretchr/testify/require"
)

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws/collab/room", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	}
	return req
}

func TestLaunchTokenProviderIdentifiesClaims(t *testing.T) {
	provider := newLaunchTokenProvider(testSecret, func() time.Time { return testNow })
	token := signTestToken(t, launchClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: " user-1 "},
		Name:             "Ada",
		Staff:            true,
		Rooms:            []string{"a", " ", "b"},
		Consumer:         "consumer",
		Course:           "course",
	})

	identity, err := provider.Identify(context.Background(), requestWithToken(token))
	require.NoError(t, err)
	require.Equal(t, Identity{
		UserID:   "user-1",
		Name:     "Ada",
		Consumer: "consumer",
		CourseID: "course",
		Staff:    true,
		Rooms:    []string{"a", "b"},
	}, identity)
}

func TestLaunchTokenProviderReadsQueryParam(t *testing.T) {
	provider := newLaunchTokenProvider(testSecret, func() time.Time { return testNow })
	req := httptest.NewRequest(http.MethodGet, "/ws/collab/room?token="+userToken(t, "user-2"), nil)

	identity, err := provider.Identify(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "user-2", identity.UserID)
}

func TestLaunchTokenProviderAnonymous(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		provider := newLaunchTokenProvider(testSecret, nil)
		identity, err := provider.Identify(ctx, requestWithToken(""))
		require.NoError(t, err)
		require.False(t, identity.Known())
	})

	t.Run("no secret", func(t *testing.T) {
		provider := newLaunchTokenProvider("  ", nil)
		identity, err := provider.Identify(ctx, requestWithToken(userToken(t, "user-1")))
		require.NoError(t, err)
		require.False(t, identity.Known())
	})
}

func TestLaunchTokenProviderRejectsInvalidTokens(t *testing.T) {
	ctx := context.Background()
	provider := newLaunchTokenProvider(testSecret, func() time.Time { return testNow })

	expired := signTestToken(t, launchClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(-time.Minute)),
	}})
	_, err := provider.Identify(ctx, requestWithToken(expired))
	require.True(t, errors.Is(err, errLaunchTokenExpired))

	notYet := signTestToken(t, launchClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		NotBefore: jwt.NewNumericDate(testNow.Add(time.Minute)),
	}})
	_, err = provider.Identify(ctx, requestWithToken(notYet))
	require.Error(t, err)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, launchClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = provider.Identify(ctx, requestWithToken(wrongKey))
	require.Error(t, err)

	wrongMethod, err := jwt.NewWithClaims(jwt.SigningMethodHS512, launchClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = provider.Identify(ctx, requestWithToken(wrongMethod))
	require.Error(t, err)

	_, err = provider.Identify(ctx, requestWithToken("not-a-token"))
	require.Error(t, err)
}

func TestLaunchTokenProviderAuthorization(t *testing.T) {
	ctx := context.Background()
	provider := newLaunchTokenProvider(testSecret, nil)
	room := storage.Room{Name: "room", Consumer: "consumer-1"}

	tests := []struct {
		name     string
		identity Identity
		want     bool
	}{
		{name: "anonymous", identity: Identity{Staff: true, Rooms: []string{"room"}}, want: false},
		{name: "staff", identity: Identity{UserID: "u", Staff: true}, want: true},
		{name: "listed room", identity: Identity{UserID: "u", Rooms: []string{"x", "room"}}, want: true},
		{name: "same consumer", identity: Identity{UserID: "u", Consumer: "consumer-1"}, want: true},
		{name: "other consumer", identity: Identity{UserID: "u", Consumer: "consumer-2"}, want: false},
		{name: "no grant", identity: Identity{UserID: "u"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.IsAuthorized(ctx, tt.identity, room)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	authorized, err := provider.IsAuthorized(ctx, Identity{UserID: "u", Consumer: ""}, storage.Room{Name: "room"})
	require.NoError(t, err)
	require.False(t, authorized, "empty consumers never match")
}

func TestLaunchTokenProviderObserverAndDisplayName(t *testing.T) {
	ctx := context.Background()
	provider := newLaunchTokenProvider(testSecret, nil)

	privileged, err := provider.IsPrivilegedObserver(ctx, Identity{UserID: "u", Staff: true})
	require.NoError(t, err)
	require.True(t, privileged)

	privileged, err = provider.IsPrivilegedObserver(ctx, Identity{Staff: true})
	require.NoError(t, err)
	require.False(t, privileged)

	name, err := provider.DisplayName(ctx, Identity{UserID: "u", Name: "Ada"})
	require.NoError(t, err)
	require.Equal(t, "Ada", name)

	name, err = provider.DisplayName(ctx, Identity{UserID: "u"})
	require.NoError(t, err)
	require.Equal(t, "u", name)
}
