package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const issuer = "reconciler"

// Elevated roles may run audits and apply changes.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

type contextKey string

const callerKey contextKey = "reconciler-caller"

// Claims is the admin token payload.
type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// Caller is the authenticated principal of a request.
type Caller struct {
	Subject string
	Role    string
}

// IssueToken signs an HS256 token for subject with role.
func IssueToken(secret, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	claims := Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(token, secret string, now func() time.Time) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(*jwtlib.Token) (any, error) {
		return []byte(secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// authorize resolves the caller from the Authorization header. Every failure
// is an AuthorizationError so handlers can answer uniformly.
func (s *Server) authorize(req *http.Request) (Caller, error) {
	if s.secret == "" {
		return Caller{}, reconerrors.NewAuthorizationError("admin api has no jwt secret")
	}
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return Caller{}, reconerrors.NewAuthorizationError(err.Error())
	}
	claims, err := parseToken(token, s.secret, s.now)
	if err != nil {
		return Caller{}, reconerrors.NewAuthorizationError("token rejected")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleOwner {
		return Caller{}, reconerrors.NewAuthorizationError("role is not elevated")
	}
	subject := claims.Subject
	if subject == "" {
		subject = "anonymous-" + claims.Role
	}
	return Caller{Subject: subject, Role: claims.Role}, nil
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		caller, err := s.authorize(req)
		if err != nil {
			s.log.WithFields(map[string]any{"path": req.URL.Path}).Warn(err.Error())
			unauthorized(w)
			return
		}
		ctx := context.WithValue(req.Context(), callerKey, caller)
		next(w, req.WithContext(ctx))
	}
}

func callerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
