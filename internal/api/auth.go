package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Claims is the session token issued by the clinic's identity service.
// Subject carries the patient or doctor id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (c Claims) session() (appointment.Session, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return appointment.Session{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	role := appointment.Role(c.Role)
	if role != appointment.RolePatient && role != appointment.RoleDoctor {
		return appointment.Session{}, fmt.Errorf("invalid role %q", c.Role)
	}
	return appointment.Session{ActorID: id, Role: role}, nil
}

// SessionMiddleware verifies the HS256 bearer token and puts the session into the request context.
func SessionMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid authorization format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}

			sess, err := claims.session()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(ctx context.Context) (appointment.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(appointment.Session)
	return sess, ok
}

// IssueToken signs a session token. Used by the seed and simulate tools and by tests.
func IssueToken(secret []byte, sess appointment.Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(sess.ActorID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(sess.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
