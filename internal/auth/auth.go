// Package auth 为运行 API 提供 Bearer 认证：静态令牌与 HS256 签名的 JWT。
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	loggerpkg "LeadFlow/pkg/logger"
)

const defaultJWTTTL = time.Hour

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrJWTDisabled  = errors.New("jwt signing key not configured")
	ErrEmptySubject = errors.New("subject is required")
)

// Token 是一个调用方的名称与令牌。
type Token struct {
	Name  string `yaml:"name"`
	Value string `yaml:"token"`
}

// JWTConfig 配置 JWT 的签发与校验。Secret 为空时读取 SecretEnv 指向的环境变量。
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	SecretEnv  string `yaml:"secret_env"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// ResolveSecret 返回签名密钥，未配置时返回空串。
func (c JWTConfig) ResolveSecret() string {
	if s := strings.TrimSpace(c.Secret); s != "" {
		return s
	}
	if c.SecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.SecretEnv))
}

// Config 汇总 Guard 接受的凭据。两者都为空时 Guard 不做校验。
type Config struct {
	Tokens []Token   `yaml:"tokens"`
	JWT    JWTConfig `yaml:"jwt"`
}

// Guard 校验请求头中的令牌。
type Guard struct {
	digests map[[sha256.Size]byte]string

	jwtKey   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time

	audit *slog.Logger
}

// NewGuard 构造 Guard，空令牌会被忽略。
func NewGuard(cfg Config) *Guard {
	g := &Guard{
		digests:  make(map[[sha256.Size]byte]string, len(cfg.Tokens)),
		issuer:   cfg.JWT.Issuer,
		audience: cfg.JWT.Audience,
		ttl:      time.Duration(cfg.JWT.TTLMinutes) * time.Minute,
		now:      time.Now,
	}
	if g.ttl <= 0 {
		g.ttl = defaultJWTTTL
	}
	if secret := cfg.JWT.ResolveSecret(); secret != "" {
		g.jwtKey = []byte(secret)
	}
	for _, t := range cfg.Tokens {
		value := strings.TrimSpace(t.Value)
		if value == "" {
			continue
		}
		name := t.Name
		if name == "" {
			name = "anonymous"
		}
		g.digests[sha256.Sum256([]byte(value))] = name
	}
	return g
}

// Enabled 表示是否配置了任何凭据。
func (g *Guard) Enabled() bool {
	return g != nil && (len(g.digests) > 0 || len(g.jwtKey) > 0)
}

// Authenticate 解析 Authorization 头并返回调用方名称。
// 静态令牌优先匹配；配置了 JWT 密钥时，其余令牌按 JWT 校验，调用方取 sub。
func (g *Guard) Authenticate(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	for known, name := range g.digests {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			return name, nil
		}
	}
	if len(g.jwtKey) > 0 && strings.Count(token, ".") == 2 {
		return g.verifyJWT(token)
	}
	return "", ErrInvalidToken
}

// Issue 为 subject 签发一个 JWT，有效期取配置的 ttl_minutes（默认 60 分钟）。
func (g *Guard) Issue(subject string) (string, time.Time, error) {
	if g == nil || len(g.jwtKey) == 0 {
		return "", time.Time{}, ErrJWTDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, ErrEmptySubject
	}
	now := g.now()
	expires := now.Add(g.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    g.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if g.audience != "" {
		claims.Audience = jwt.ClaimStrings{g.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.jwtKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (g *Guard) verifyJWT(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return g.jwtKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", ErrInvalidToken
	case g.issuer != "" && !claims.VerifyIssuer(g.issuer, true):
		return "", ErrInvalidToken
	case g.audience != "" && !claims.VerifyAudience(g.audience, true):
		return "", ErrInvalidToken
	case claims.Subject == "":
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware 拒绝未认证的请求，并为每个请求写一条审计日志。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		audit := g.audit
		if audit == nil {
			audit = loggerpkg.Audit()
		}

		caller, err := g.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="leadflow"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "UNAUTHORIZED"})
			audit.Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("error", err.Error()),
			)
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(WithCaller(r.Context(), caller)))
		audit.Info("api_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("caller", caller),
		)
	})
}

type callerKey struct{}

// WithCaller 把调用方名称写入上下文。
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext 返回已认证的调用方名称。
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
