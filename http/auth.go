package http

import (
	"context"
	"github.com/golang-jwt/jwt/v5"
	"go-currency-ledger/domain"
	"net/http"
	"strings"
	"time"
)

// Claims carried by a bearer token
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewAuthenticator issuer and audience are checked only when non-empty
func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	if secret == "" {
		panic("http: empty jwt secret")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Sign issues a token for the principal, valid for ttl
func (a *Authenticator) Sign(p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses the token and returns the principal it names
func (a *Authenticator) Verify(token string) (domain.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := new(Claims)
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return domain.Principal{}, domain.Wrap(domain.KindAuthorization, err, "invalid token")
	}
	if claims.Subject == "" {
		return domain.Principal{}, domain.Errorf(domain.KindAuthorization, "token has no subject")
	}
	return domain.Principal{UserID: claims.Subject, Roles: claims.Roles}, nil
}

type principalContext struct{}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalContext{}, p)
}

// principal returns the caller set by authenticate; anonymous otherwise
func principal(r *http.Request) domain.Principal {
	p, _ := r.Context().Value(principalContext{}).(domain.Principal)
	return p
}

// authenticate rejects requests without a valid bearer token
func (a *Authenticator) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(rw, domain.Errorf(domain.KindAuthorization, "missing bearer token"))
			return
		}
		p, err := a.Verify(token)
		if err != nil {
			writeError(rw, err)
			return
		}
		next.ServeHTTP(rw, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// requireAdmin must run after authenticate
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !principal(r).IsAdmin() {
			writeError(rw, domain.Errorf(domain.KindAuthorization, "admin role required"))
			return
		}
		next.ServeHTTP(rw, r)
	})
}
