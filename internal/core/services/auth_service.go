package services

import (
	"errors"
	"time"

	"livecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid ingest token")
	ErrExpiredToken = errors.New("ingest token expired")
	ErrWrongSession = errors.New("ingest token was issued for another session")
)

// IngestAuthorizer validates ingest tokens presented to write endpoints.
type IngestAuthorizer interface {
	Validate(token string) (*IngestClaims, error)
	Authorize(token string, sessionID domain.SessionID) (*IngestClaims, error)
}

// IngestTokenService mints the per-session ingest tokens handed to a
// publisher when a session is created, and validates them when they come
// back on the WHIP and stop endpoints.
type IngestTokenService interface {
	IngestAuthorizer
	Mint(sessionID domain.SessionID, participantID domain.ParticipantID) (domain.IngestToken, error)
}

// IngestClaims is the signed content of an ingest token.
type IngestClaims struct {
	SessionID     domain.SessionID     `json:"session_id"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	jwt.RegisteredClaims
}

type ingestTokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewIngestTokenService creates a token service signing with HS256.
func NewIngestTokenService(secret string, ttl time.Duration) IngestTokenService {
	return &ingestTokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *ingestTokenService) Mint(sessionID domain.SessionID, participantID domain.ParticipantID) (domain.IngestToken, error) {
	now := time.Now()
	claims := &IngestClaims{
		SessionID:     sessionID,
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return domain.IngestToken(signed), nil
}

func (s *ingestTokenService) Validate(tokenString string) (*IngestClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IngestClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*IngestClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authorize validates the token and checks it was minted for the given
// session. A token for session A must not publish into or stop session B.
func (s *ingestTokenService) Authorize(tokenString string, sessionID domain.SessionID) (*IngestClaims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != sessionID {
		return nil, ErrWrongSession
	}
	return claims, nil
}
