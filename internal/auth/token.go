package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gallera-exchange/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Session is the identity carried by a signed token.
type Session struct {
	UserID  string
	Role    model.Role
	FightID string
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// MakeToken signs a token for the user. fightID may be empty.
func (i *Issuer) MakeToken(userID string, role model.Role, fightID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  i.now().Add(i.ttl).Unix(),
	}
	if fightID != "" {
		claims["fight_id"] = fightID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse verifies signature and expiry and returns the session.
func (i *Issuer) Parse(tokenStr string) (Session, error) {
	if tokenStr == "" {
		return Session{}, ErrInvalidToken
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	fightID, _ := claims["fight_id"].(string)
	if sub == "" || role == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{UserID: sub, Role: model.Role(role), FightID: fightID}, nil
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for browser websocket clients, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if tok := ExtractBearer(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

func ExtractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
