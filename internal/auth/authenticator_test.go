package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyJWT(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	p, err := a.VerifyJWT(context.Background(), stub.signToken(tokenOpts{sub: "u-1"}))
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, SourceJWT, p.Source)
}

func TestVerifyJWTFallsBackToIDClaim(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	p, err := a.VerifyJWT(context.Background(), stub.signToken(tokenOpts{id: "u-2"}))
	require.NoError(t, err)
	assert.Equal(t, "u-2", p.UserID)
}

func TestVerifyJWTRejections(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"garbage", "not.a.token", ErrTokenInvalid},
		{"wrong issuer", stub.signToken(tokenOpts{sub: "u", iss: "https://evil.test"}), ErrTokenInvalid},
		{"wrong audience", stub.signToken(tokenOpts{sub: "u", aud: "other-service"}), ErrTokenInvalid},
		{"expired", stub.signToken(tokenOpts{sub: "u", expire: -time.Hour}), ErrTokenInvalid},
		{"no subject claim", stub.signToken(tokenOpts{}), ErrTokenInvalid},
		{"unknown kid", stub.signToken(tokenOpts{sub: "u", kid: "rogue-kid"}), ErrKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.VerifyJWT(context.Background(), tt.token)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyJWTMissingKid(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "u", "iss": stubIssuer, "aud": stubAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(stub.priv)
	require.NoError(t, err)

	_, err = a.VerifyJWT(context.Background(), signed)
	require.ErrorIs(t, err, ErrTokenMissingKid)
}

func TestVerifyJWTWrongSigningMethod(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u", "iss": stubIssuer, "aud": stubAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = stubKid
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = a.VerifyJWT(context.Background(), signed)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyJWTForgedSignature(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	// Signed by a key the provider never published, under the published kid.
	_, rogue, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "u", "iss": stubIssuer, "aud": stubAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = stubKid
	signed, err := token.SignedString(rogue)
	require.NoError(t, err)

	_, err = a.VerifyJWT(context.Background(), signed)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAPIKey(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	p, err := a.VerifyAPIKey(context.Background(), stubAPIKey, nil)
	require.NoError(t, err)
	assert.Equal(t, stubUserID, p.UserID)
	assert.Equal(t, SourceAPIKey, p.Source)
	assert.Equal(t, "key-7", p.KeyID)
	assert.Equal(t, "ci key", p.Claims["name"])
}

func TestVerifyAPIKeyStatusMapping(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)

	_, err := a.VerifyAPIKey(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrAPIKeyInvalid)

	_, err = a.VerifyAPIKey(context.Background(), "pk_live_wrong", nil)
	require.ErrorIs(t, err, ErrAPIKeyInvalid)

	stub.verifyStatus.Store(403)
	_, err = a.VerifyAPIKey(context.Background(), stubAPIKey, nil)
	require.ErrorIs(t, err, ErrAPIKeyForbidden)

	stub.verifyStatus.Store(500)
	_, err = a.VerifyAPIKey(context.Background(), stubAPIKey, nil)
	require.ErrorIs(t, err, ErrAPIKeyVerify)
}

func TestVerifyAPIKeyProviderDown(t *testing.T) {
	stub := newProviderStub(t)
	a := stub.authenticator(time.Hour)
	stub.server.Close()

	_, err := a.VerifyAPIKey(context.Background(), stubAPIKey, nil)
	require.ErrorIs(t, err, ErrAPIKeyVerify)
}
