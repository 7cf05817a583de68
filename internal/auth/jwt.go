package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in token claims. The engine does not manage accounts; it
// trusts the role asserted by the identity provider that signed the token.
const (
	RoleStudent     = "STUDENT"
	RoleSupervisor  = "SUPERVISOR"
	RoleCoordinator = "COORDINATOR"
	RoleAdmin       = "ADMIN"
)

// Actor is the verified identity attached to a request.
type Actor struct {
	ID   int64
	Role string
}

// Elevated reports whether the actor may act on behalf of other users.
func (a Actor) Elevated() bool {
	return a.Role == RoleSupervisor || a.Role == RoleCoordinator || a.Role == RoleAdmin
}

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts claims into an Actor. The subject must be a numeric user id.
func (c Claims) Actor() (Actor, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Actor{}, errors.New("non-numeric subject")
	}
	switch c.Role {
	case RoleStudent, RoleSupervisor, RoleCoordinator, RoleAdmin:
	default:
		return Actor{}, errors.New("unknown role")
	}
	return Actor{ID: id, Role: c.Role}, nil
}

// Issue signs access and refresh tokens for a user id and role.
func Issue(userID int64, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	sign := func(exp time.Time) (string, error) {
		claims := Claims{
			Role: role,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   strconv.FormatInt(userID, 10),
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	}

	accessToken, err := sign(accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates a token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
