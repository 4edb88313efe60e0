package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/permission"
)

type claimsContextKey struct{}
type apiKeyContextKey struct{}

// ClaimsFromContext returns the session claims a Require guard attached.
func ClaimsFromContext(ctx context.Context) (*goTenant.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*goTenant.Claims)
	return c, ok
}

// APIKeyFromContext returns the identity a RequireAPIKey guard attached.
func APIKeyFromContext(ctx context.Context) (*goTenant.APIKeyIdentity, bool) {
	id, ok := ctx.Value(apiKeyContextKey{}).(*goTenant.APIKeyIdentity)
	return id, ok
}

// Require admits requests whose bearer session is active, verified and at
// least level.
func Require(engine *goTenant.Engine, level permission.Level) func(http.Handler) http.Handler {
	return guard(engine, level, false)
}

// RequireUnverified is Require for routes an unverified user may reach.
func RequireUnverified(engine *goTenant.Engine, level permission.Level) func(http.Handler) http.Handler {
	return guard(engine, level, true)
}

func guard(engine *goTenant.Engine, level permission.Level, allowUnverified bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			authorize := engine.Authorize
			if allowUnverified {
				authorize = engine.AuthorizeUnverified
			}
			claims, err := authorize(r.Context(), token, level)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey admits requests carrying an active key that grants scope.
// The key is read from X-API-Key or from HTTP Basic credentials with the key
// as the username.
func RequireAPIKey(engine *goTenant.Engine, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key, _ = basicCredential(r.Header.Get("Authorization"))
			}
			if key == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := engine.VerifyAPIKey(r.Context(), key, scope)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientMeta copies the caller's address and User-Agent into the request
// context so sign-in calls can score the attempt. X-Forwarded-For is only
// honored when trustProxy is set.
func ClientMeta(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := goTenant.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = goTenant.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError writes err as a plain-text response with the status it carries.
// Internal failures are not echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := goTenant.StatusOf(err)
	var ae *goTenant.AuthError
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(ae.RetryAfter.Seconds()+0.5)))
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	http.Error(w, msg, status)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// basicCredential returns the raw base64 payload of a Basic header, which
// VerifyAPIKey decodes itself.
func basicCredential(value string) (string, bool) {
	const basic = "Basic "
	if !strings.HasPrefix(value, basic) {
		return "", false
	}
	cred := strings.TrimSpace(value[len(basic):])
	return cred, cred != ""
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
