package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "ecomobile_admin"

var errNoSession = errors.New("no admin session")

// AuthManager mints and verifies the signed session for the entitlement
// admin console. Sessions are HS256 JWTs; collaborator services never touch
// this path, they authenticate with the shared service key.
type AuthManager struct {
	secret []byte
	domain string
	secure bool
	ttl    time.Duration
}

func NewAuthManager(secret string, secure bool, domain string, ttl time.Duration) *AuthManager {
	return &AuthManager{secret: []byte(secret), domain: domain, secure: secure, ttl: ttl}
}

type AdminClaims struct {
	Console string `json:"console"`
	jwt.RegisteredClaims
}

// Mint signs a fresh session token and sets it as the console cookie.
func (a *AuthManager) Mint(w http.ResponseWriter) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Console: "entitlements",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ecomobile",
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, a.cookie(signed, int(a.ttl.Seconds())))
	return signed, nil
}

func (a *AuthManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie("", -1))
}

func (a *AuthManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		Domain:   a.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ParseFromRequest accepts the session either as a bearer token or as the
// console cookie.
func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	if hdr := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return a.verify(strings.TrimSpace(hdr[7:]))
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return a.verify(c.Value)
	}
	return nil, errNoSession
}

func (a *AuthManager) verify(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
