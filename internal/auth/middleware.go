// Package auth extracts the caller identity from bearer tokens issued by
// the account service. Session issuance and refresh live outside this
// service; only validation happens here.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// Middleware validates bearer tokens and attaches the user id to the
// request context.
type Middleware struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		userID, err := m.parse(token)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}

func (m Middleware) parse(token string) (int64, error) {
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, m.Secret),
		jwt.WithValidate(true),
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	tok, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return 0, err
	}
	return common.ParseUserID(tok.Subject())
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
