package action

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbflow/wfengine/internal/template"
)

// AuthMode discriminates HTTPRequestConfig.Auth.Type.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthJWT    AuthMode = "jwt"
)

// AuthConfig is the "auth" block of an http_request action. Token and Secret may carry template tokens, resolved
// against env (credentials are expected to live in the workflow's env
// map, not hardcoded into the action JSON).
type AuthConfig struct {
	Type   AuthMode          `json:"type"`
	Token  string            `json:"token"`  // bearer: the literal token (templated)
	Secret string            `json:"secret"` // jwt: HMAC signing secret (templated)
	Claims map[string]any    `json:"claims"` // jwt: claim set, merged with exp/iat
	TTL    uint64            `json:"ttl_seconds"`
	Header map[string]string `json:"header"` // extra headers layered on top of auth
}

// applyAuth resolves and sets the request's Authorization header per
// cfg.Type. A jwt config signs a fresh token per request using HS256
// via golang-jwt/jwt/v5, rather than inventing a bespoke scheme.
func applyAuth(ctx RunContext, req *http.Request, cfg AuthConfig) error {
	switch cfg.Type {
	case "", AuthNone:
		return nil
	case AuthBearer:
		token, err := template.ResolveTemplate(ctx, cfg.Token)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	case AuthJWT:
		secret, err := template.ResolveTemplate(ctx, cfg.Secret)
		if err != nil {
			return err
		}
		token, err := signJWT(secret, cfg.Claims, cfg.TTL)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	default:
		return nil
	}
}

func signJWT(secret string, claims map[string]any, ttlSeconds uint64) (string, error) {
	now := time.Now()
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttlSeconds == 0 {
		ttl = 5 * time.Minute
	}
	mapClaims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for k, v := range claims {
		mapClaims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	return token.SignedString([]byte(secret))
}
