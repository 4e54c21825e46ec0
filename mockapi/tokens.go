package mockapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenReused   = errors.New("token reused")
	ErrTokenExpired  = errors.New("token expired")
)

// refreshToken is a stored refresh token. Rotation keeps the family and bumps
// the generation; presenting a rotated token again revokes the whole family.
type refreshToken struct {
	hash       string
	userID     string
	family     string
	generation int
	scopes     []string
	createdAt  time.Time
	expiresAt  time.Time
	revoked    bool
}

type refreshStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]*refreshToken
}

func newRefreshStore(ttl time.Duration) *refreshStore {
	return &refreshStore{ttl: ttl, tokens: map[string]*refreshToken{}}
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// create starts a new family for userID and returns the plain token
func (s *refreshStore) create(userID string, scopes []string) (string, error) {
	family, err := generateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue(userID, family[:16], 1, scopes)
}

// issue stores a new token (caller must hold lock)
func (s *refreshStore) issue(userID, family string, generation int, scopes []string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	rt := &refreshToken{
		hash:       hashToken(token),
		userID:     userID,
		family:     family,
		generation: generation,
		scopes:     scopes,
		createdAt:  now,
		expiresAt:  now.Add(s.ttl),
	}
	s.tokens[rt.hash] = rt
	return token, nil
}

// rotate invalidates old and returns its successor in the same family.
// A token that was already rotated or revoked revokes its family and fails
// with ErrTokenReused.
func (s *refreshStore) rotate(old string) (string, *refreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.tokens[hashToken(old)]
	if !ok {
		return "", nil, ErrTokenNotFound
	}
	if rt.revoked {
		s.revokeFamily(rt.family)
		return "", rt, ErrTokenReused
	}
	if time.Now().After(rt.expiresAt) {
		return "", rt, ErrTokenExpired
	}

	rt.revoked = true
	token, err := s.issue(rt.userID, rt.family, rt.generation+1, rt.scopes)
	if err != nil {
		return "", nil, err
	}
	return token, rt, nil
}

// revoke marks one token revoked; unknown tokens are ignored
func (s *refreshStore) revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.tokens[hashToken(token)]; ok {
		rt.revoked = true
	}
}

// revokeFamily revokes every generation of a family (caller must hold lock)
func (s *refreshStore) revokeFamily(family string) {
	for _, rt := range s.tokens {
		if rt.family == family {
			rt.revoked = true
		}
	}
}

// active counts unrevoked tokens
func (s *refreshStore) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rt := range s.tokens {
		if !rt.revoked {
			n++
		}
	}
	return n
}

// accessClaims are the claims of an access token. Epoch ties the token to
// the server's access epoch so all tokens can be expired at once.
type accessClaims struct {
	Type   string   `json:"type"`
	Scopes []string `json:"scopes,omitempty"`
	Epoch  int64    `json:"epoch"`
	jwt.RegisteredClaims
}

// createAccessToken creates a signed HS256 access token
func (s *Server) createAccessToken(userID string, scopes []string) (string, int64, error) {
	now := time.Now()
	claims := accessClaims{
		Type:   "access",
		Scopes: scopes,
		Epoch:  s.epoch.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        fmt.Sprintf("%d", s.issued.Add(1)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

// validateAccessToken checks signature, expiry, type and epoch and returns the user id
func (s *Server) validateAccessToken(tokenString string) (string, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Type != "access" {
		return "", fmt.Errorf("invalid token type")
	}
	if claims.Epoch < s.epoch.Load() {
		return "", ErrTokenExpired
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing subject")
	}
	return claims.Subject, nil
}
