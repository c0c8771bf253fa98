package gateway

import (
	"crypto/subtle"
	"os"

	"github.com/venturekit/planner/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth is the gateway's effective credential set after config
// and environment are merged.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth merges credentials: config wins over environment. An
// unset mode defaults to password when only a password is present,
// token otherwise.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	a := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    firstNonEmpty(cfg.Token, os.Getenv("PLANNER_GATEWAY_TOKEN")),
		Password: firstNonEmpty(cfg.Password, os.Getenv("PLANNER_GATEWAY_PASSWORD")),
	}
	if a.Mode == "" {
		a.Mode = "token"
		if a.Password != "" {
			a.Mode = "password"
		}
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Authorize checks the connect request's credentials against the
// server's resolved auth.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch server.Mode {
	case "token":
		return verifySecret("token", server.Token, client.Token)
	case "password":
		return verifySecret("password", server.Password, client.Password)
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

func verifySecret(method, secret, supplied string) AuthResult {
	switch {
	case secret == "":
		return AuthResult{Reason: "server " + method + " not configured"}
	case supplied == "":
		return AuthResult{Reason: method + " required"}
	case !safeEqual(supplied, secret):
		return AuthResult{Reason: method + "_mismatch"}
	}
	return AuthResult{OK: true, Method: method}
}

// safeEqual compares two secrets in constant time, including the
// length check, so timing reveals neither content nor length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
