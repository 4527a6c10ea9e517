package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessions is the primary account system: an opaque session cookie whose value keys
// a Redis entry holding the account id.
type RedisSessions struct {
	client *redis.Client
	cookie string
	prefix string
}

func NewRedisSessions(client *redis.Client, cookieName, keyPrefix string) *RedisSessions {
	return &RedisSessions{client: client, cookie: cookieName, prefix: keyPrefix}
}

func (s *RedisSessions) Principal(r *http.Request) (string, error) {
	c, err := r.Cookie(s.cookie)
	if err != nil || c.Value == "" {
		return "", nil
	}

	accountID, err := s.client.Get(r.Context(), s.prefix+c.Value).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: session lookup: %v", ErrSourceUnavailable, err)
	}
	return accountID, nil
}

// Issue stores a new session for accountID and returns the cookie value.
func (s *RedisSessions) Issue(ctx context.Context, accountID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.prefix+token, accountID, ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Revoke drops a session. Unknown tokens are ignored.
func (s *RedisSessions) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.prefix+token).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Cookie builds the session cookie for a token returned by Issue.
func (s *RedisSessions) Cookie(token string) *http.Cookie {
	return &http.Cookie{Name: s.cookie, Value: token, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
}

// SocialTokens is the secondary identity system: HMAC-signed bearer tokens minted by the
// federated social-login flow. The subject claim is the secondary account id.
type SocialTokens struct {
	secret []byte
	issuer string
}

func NewSocialTokens(secret, issuer string) *SocialTokens {
	return &SocialTokens{secret: []byte(secret), issuer: issuer}
}

func (s *SocialTokens) Principal(r *http.Request) (string, error) {
	if len(s.secret) == 0 {
		return "", nil
	}
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return "", nil
	}
	tokenString := strings.TrimPrefix(auth, "Bearer ")

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", nil
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. Used by tooling that stands in for the social-login flow.
func (s *SocialTokens) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign social token: %w", err)
	}
	return signed, nil
}
