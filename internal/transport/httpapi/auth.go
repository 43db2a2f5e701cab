package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMode определяет, откуда берётся идентичность вызывающего.
type AuthMode string

const (
	// AuthModeJWT - bearer-токен HS256, субъект в claim sub.
	AuthModeJWT AuthMode = "jwt"
	// AuthModeHeader - субъект в заголовке от доверенного прокси. Только для dev и внутренних сетей.
	AuthModeHeader AuthMode = "header"
)

const (
	subjectContextKey    = "marketpay.subject"
	defaultSubjectHeader = "X-User-ID"
)

var errUnauthenticated = errors.New("authentication required")

// AuthConfig задаёт проверку идентичности.
type AuthConfig struct {
	Mode          AuthMode
	JWTSecret     string
	JWTIssuer     string
	SubjectHeader string
}

// Validate проверяет согласованность настроек.
func (c AuthConfig) Validate() error {
	switch c.Mode {
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return errors.New("jwt secret is required for jwt auth mode")
		}
	case AuthModeHeader:
	default:
		return fmt.Errorf("unsupported auth mode %q", c.Mode)
	}
	return nil
}

// Authenticate кладёт субъект запроса в контекст gin или отвечает 401.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	header := cfg.SubjectHeader
	if header == "" {
		header = defaultSubjectHeader
	}

	var parser *jwt.Parser
	if cfg.Mode == AuthModeJWT {
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if cfg.JWTIssuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
		}
		parser = jwt.NewParser(opts...)
	}

	return func(c *gin.Context) {
		var (
			subject string
			err     error
		)
		if cfg.Mode == AuthModeHeader {
			subject = strings.TrimSpace(c.GetHeader(header))
		} else {
			subject, err = subjectFromBearer(parser, []byte(cfg.JWTSecret), c.GetHeader("Authorization"))
		}
		if err != nil || subject == "" {
			writeProblem(c, http.StatusUnauthorized, "unauthenticated", errUnauthenticated.Error())
			c.Abort()
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

func subjectFromBearer(parser *jwt.Parser, secret []byte, authorization string) (string, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errUnauthenticated
	}

	claims := jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return claims.Subject, nil
}

// subject возвращает id аутентифицированного пользователя.
func subject(c *gin.Context) string {
	return c.GetString(subjectContextKey)
}

// SignToken выпускает токен для субъекта. Используется в тестах и dev-утилитах.
func SignToken(secret, sub string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = sub
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
