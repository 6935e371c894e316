package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultLeeway = 30 * time.Second

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrMalformedToken = errors.New("malformed authorization header")
)

// TokenVerifier turns a bearer credential into a verified identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
}

// VerifierConfig selects the key source. A JWKS URL takes precedence over
// the shared secret.
type VerifierConfig struct {
	JWKSURL  string
	Secret   string
	Issuer   string
	Audience string
}

// Verifier validates access tokens issued by the external auth service.
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewVerifier builds a verifier. With a JWKS URL the key set is fetched and
// refreshed in the background until ctx is cancelled.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var kf jwt.Keyfunc
	switch {
	case cfg.JWKSURL != "":
		provider, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("init JWKS keyfunc: %w", err)
		}
		kf = provider.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodRS384.Alg(),
			jwt.SigningMethodRS512.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodES384.Alg(),
		}))
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		kf = func(*jwt.Token) (any, error) { return secret, nil }
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	default:
		return nil, errors.New("either a JWKS URL or a shared secret is required")
	}

	return &Verifier{
		keyfunc: kf,
		parser:  jwt.NewParser(opts...),
	}, nil
}

// Verify parses and validates a token and extracts the identity.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*domain.Identity, error) {
	const op = "auth.verify"

	if tokenString == "" {
		return nil, domain.Wrap(ErrMissingToken, domain.EUNAUTHORIZED, op, "Authentication required")
	}

	token, err := v.parser.Parse(tokenString, v.keyfunc)
	if err != nil || !token.Valid {
		return nil, &domain.Error{
			Code:    domain.EUNAUTHORIZED,
			Op:      op,
			Message: "Invalid or expired token",
			Reason:  domain.ReasonUnauthenticated,
			Err:     err,
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.Unauthorized(op, "Invalid token claims")
	}

	sub, _ := claims.GetSubject()
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, domain.Unauthorized(op, "Token subject is not a valid user id")
	}

	return &domain.Identity{
		ID:            id,
		Email:         strings.ToLower(readString(claims, "email")),
		EmailVerified: emailVerified(claims),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformedToken
	}
	return token, nil
}

// emailVerified checks the places managed auth services put the flag.
func emailVerified(claims jwt.MapClaims) bool {
	if b, ok := claims["email_verified"].(bool); ok && b {
		return true
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if b, ok := meta["email_verified"].(bool); ok && b {
			return true
		}
	}
	return readString(claims, "email_confirmed_at") != ""
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

var _ TokenVerifier = (*Verifier)(nil)
