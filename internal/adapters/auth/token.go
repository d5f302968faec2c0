// Package auth verifies the join tokens that carry a participant's identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Huddle/internal/domain"
)

var ErrTokenRequired = fmt.Errorf("%w: join token required", domain.ErrUnauthorized)

// Claims are the join token claims. Subject is the participant id; Room, when set,
// restricts the token to one room.
type Claims struct {
	Room string `json:"room,omitempty"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Identity struct {
	Participant domain.ParticipantID
	Room        domain.RoomCode
	DisplayName string
}

// Verifier checks HS256 join tokens. With an empty secret it is disabled and
// clients identify themselves.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *Verifier) Issue(participant domain.ParticipantID, room domain.RoomCode, name string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("token issuing disabled")
	}
	now := time.Now()
	claims := Claims{
		Room: string(room),
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(participant),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenRequired
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	id := domain.ParticipantID(claims.Subject)
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("%w: subject: %w", domain.ErrUnauthorized, err)
	}
	return Identity{
		Participant: id,
		Room:        domain.RoomCode(claims.Room),
		DisplayName: claims.Name,
	}, nil
}
