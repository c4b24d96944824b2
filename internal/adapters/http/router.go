package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

type Config struct {
	Mode      string
	JWTSecret string

	// StreamInterval is how often websocket watchers are checked for changes.
	StreamInterval time.Duration
	// StreamConnLimit caps new websocket connections per client IP per minute.
	StreamConnLimit int
}

func genRequestID() string {
	return uuid.NewString()
}

// RequestIDMiddleware tags every request with an id, reusing the caller's.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = genRequestID()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AuthMiddleware accepts HS256-signed bearer tokens carrying a subject.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			log.Warn().Err(err).Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if claims.Subject == "" {
			log.Warn().Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("token without subject")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}

// SetupRouter wires the operator surface. Websocket watchers live until ctx
// is cancelled or they disconnect.
func SetupRouter(ctx context.Context, cfg Config, status core.StatusProvider) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		st := status.Status()
		code := http.StatusOK
		if st.Connection != domain.Connected.String() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"connection": st.Connection})
	})

	api := r.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(AuthMiddleware(cfg.JWTSecret))
	} else {
		log.Warn().Str("module", "adapters.http").Msg("status API is not authenticated")
	}

	// GET /api/status returns connection, display reference, last count and snapshot
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Status())
	})

	limit := cfg.StreamConnLimit
	if limit <= 0 {
		limit = 10
	}
	stream := NewStatusStream(status, cfg.StreamInterval, NewConnRateLimiter(limit, time.Minute))
	// GET /api/ws/status pushes the status on every change
	api.GET("/ws/status", func(c *gin.Context) {
		stream.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("auth", cfg.JWTSecret != "").Msg("router setup")
	return r
}
