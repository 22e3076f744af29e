package api

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"board-room/domain"
	"board-room/room"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// Auth verifies bearer tokens. It accepts HS256 tokens signed with a shared
// secret, or RS256 tokens whose keys come from a JWKS endpoint.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth that resolves RS256 keys from jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, keyCacheTTL time.Duration) *Auth {
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: keyCacheTTL,
		now:         time.Now,
	}
}

// NewSecretAuth creates an Auth for HS256 tokens signed with secret.
func NewSecretAuth(secret []byte) *Auth {
	return &Auth{
		Secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:    time.Now,
	}
}

// Resolve verifies token and returns the user it was issued to.
func (a *Auth) Resolve(token string) (room.Credential, error) {
	if token == "" {
		return room.Credential{}, domain.ErrMissingToken
	}

	parsed, err := a.parser.Parse(token, a.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return room.Credential{}, domain.ErrTokenExpired
		}
		return room.Credential{}, domain.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return room.Credential{}, domain.ErrInvalidToken
	}

	now := a.now()
	expiresAt, err := expiry(claims, now)
	if err != nil {
		return room.Credential{}, err
	}
	if !claims.VerifyNotBefore(now.Unix(), false) {
		return room.Credential{}, domain.ErrInvalidToken
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return room.Credential{}, domain.ErrInvalidToken
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return room.Credential{}, domain.ErrInvalidToken
	}

	userID := subject(claims)
	if userID == "" {
		return room.Credential{}, domain.ErrInvalidToken
	}
	return room.Credential{UserID: userID, ExpiresAt: expiresAt}, nil
}

// expiry reads expiresAt (unix milliseconds) or the registered exp claim.
func expiry(claims jwt.MapClaims, now time.Time) (time.Time, error) {
	if raw, ok := claims["expiresAt"]; ok {
		ms, ok := raw.(float64)
		if !ok {
			return time.Time{}, domain.ErrInvalidToken
		}
		at := time.UnixMilli(int64(ms))
		if !now.Before(at) {
			return time.Time{}, domain.ErrTokenExpired
		}
		return at, nil
	}
	if _, ok := claims["exp"]; !ok {
		return time.Time{}, domain.ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return time.Time{}, domain.ErrTokenExpired
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, domain.ErrInvalidToken
	}
	return time.Unix(int64(exp), 0), nil
}

// subject prefers the userId claim, numeric or string, over sub.
func subject(claims jwt.MapClaims) string {
	switch v := claims["userId"].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func (a *Auth) keyFunc(t *jwt.Token) (any, error) {
	if a.Secret != nil {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	}
	return a.keyForToken(t)
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
