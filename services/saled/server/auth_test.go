package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var subject = common.HexToAddress("0x00000000000000000000000000000000000000b1")

func TestAuthenticateRoundTrip(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "saled", Audience: "crowdsale"}, nil)
	require.NoError(t, err)

	token, err := IssueToken(testSecret, TokenRequest{
		Subject:  subject,
		Scopes:   []string{ScopeContribute},
		Issuer:   "saled",
		Audience: "crowdsale",
		TTL:      time.Minute,
	}, time.Now())
	require.NoError(t, err)

	identity, err := auth.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, subject, identity.Subject)
	require.Equal(t, []string{ScopeContribute}, identity.Scopes)
}

func TestAuthenticateRejects(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "saled", ClockSkew: time.Second}, nil)
	require.NoError(t, err)
	now := time.Now()

	expired, err := IssueToken(testSecret, TokenRequest{Subject: subject, Issuer: "saled", TTL: time.Minute}, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.Authenticate(expired)
	require.Error(t, err)

	wrongIssuer, err := IssueToken(testSecret, TokenRequest{Subject: subject, Issuer: "other"}, now)
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongIssuer)
	require.Error(t, err)

	otherKey, err := IssueToken("fedcba9876543210fedcba9876543210", TokenRequest{Subject: subject, Issuer: "saled"}, now)
	require.NoError(t, err)
	_, err = auth.Authenticate(otherKey)
	require.Error(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "not-an-address",
		"iss": "saled",
		"exp": now.Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Authenticate(badSubject)
	require.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject.Hex(),
		"iss": "saled",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Authenticate(noExpiry)
	require.Error(t, err)
}

func TestMiddlewareScopes(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)
	var seen common.Address
	handler := auth.Middleware(ScopeController)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = caller(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, serve(""))
	require.Equal(t, http.StatusUnauthorized, serve("Basic abc"))

	contributor, err := IssueToken(testSecret, TokenRequest{Subject: subject, Scopes: []string{ScopeContribute}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, serve("Bearer "+contributor))

	controller, err := IssueToken(testSecret, TokenRequest{Subject: subject, Scopes: []string{ScopeContribute, ScopeController}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, serve("bearer "+controller))
	require.Equal(t, subject, seen)
}
