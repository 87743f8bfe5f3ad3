// Package livekit issues access tokens for the LiveKit media relay.
package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultRoom = "default-room"
	DefaultTTL  = 6 * time.Hour
)

var (
	ErrMissingIdentity = errors.New("livekit: missing identity")
	ErrNotConfigured   = errors.New("livekit: api key or secret not configured")
)

// VideoGrant is the room permission set carried in the token.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type Claims struct {
	jwt.RegisteredClaims
	Video *VideoGrant `json:"video,omitempty"`
}

// Credential is what a client needs to join the relay.
type Credential struct {
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
}

type Issuer struct {
	apiKey    string
	secret    []byte
	serverURL string
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(apiKey, secret, serverURL string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{apiKey: apiKey, secret: []byte(secret), serverURL: serverURL, ttl: ttl, now: time.Now}
}

// Issue signs a token letting identity join, publish and subscribe in room.
func (i *Issuer) Issue(identity, room string) (Credential, error) {
	if identity == "" {
		return Credential{}, ErrMissingIdentity
	}
	if i.apiKey == "" || len(i.secret) == 0 {
		return Credential{}, ErrNotConfigured
	}
	if room == "" {
		room = DefaultRoom
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Video: &VideoGrant{Room: room, RoomJoin: true, CanPublish: true, CanSubscribe: true},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Credential{}, fmt.Errorf("sign livekit token: %w", err)
	}
	return Credential{Token: token, ServerURL: i.serverURL}, nil
}

// Verify parses a token issued by i.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
