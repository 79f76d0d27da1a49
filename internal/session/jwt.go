// Package session issues and validates the signed session tokens carried in
// the portal cookie. Authentication itself (login, password flows) lives in a
// separate identity service; this engine only verifies the cookie and
// extracts the actor.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fineledger/internal/domain"
	dErrors "fineledger/pkg/domain-errors"
)

// CookieName is the session cookie the portals send.
const CookieName = "fineledger_session"

// Claims are the JWT claims carried by a session token.
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates session tokens with a shared HS256 key.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: "fineledger"}
}

// Issue mints a session token for an actor. Used by tests and by the identity
// service that fronts the portals.
func (s *Service) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID: actor.ID.String(),
		Role:    actor.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses a session token and returns the actor it authenticates.
func (s *Service) Validate(tokenString string) (domain.Actor, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
		}
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	actorID, err := domain.ParseActorID(claims.ActorID)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	return domain.Actor{ID: actorID, Role: role}, nil
}
