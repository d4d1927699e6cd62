package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-pkgz/auth/v2/token"
)

// Audience is the aud claim the account backend puts on tokens for this service.
const Audience = "snap-edit"

var ErrNoToken = errors.New("no bearer token")

// Session is the authenticated caller. It is passed explicitly to whatever
// acts on the user's behalf.
type Session struct {
	UserID string
	Token  string
}

// Verifier checks HS256 access tokens issued by the account backend. Issuing
// tokens is not its job.
type Verifier struct {
	tokens *token.Service
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	svc := token.NewService(token.Opts{
		SecretReader: token.SecretFunc(func(string) (string, error) {
			return secret, nil
		}),
	})
	return &Verifier{tokens: svc}, nil
}

// Verify parses raw and returns the session it belongs to. The token must name
// Audience in aud. The user id is taken from the embedded user claim, falling
// back to sub.
func (v *Verifier) Verify(raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrNoToken
	}
	claims, err := v.tokens.Parse(raw)
	if err != nil {
		return Session{}, fmt.Errorf("invalid token: %w", err)
	}
	if !slices.Contains(claims.Audience, Audience) {
		return Session{}, fmt.Errorf("invalid token: audience %v is not %q", []string(claims.Audience), Audience)
	}

	userID := claims.Subject
	if claims.User != nil && claims.User.ID != "" {
		userID = claims.User.ID
	}
	if userID == "" {
		return Session{}, errors.New("invalid token: no user id")
	}
	return Session{UserID: userID, Token: raw}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
