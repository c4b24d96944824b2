package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type statusFrame struct {
	Type string `json:"type"`
	core.StatusReport
}

// wsStatusConn never closes send; writers may race with shutdown.
type wsStatusConn struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsStatusConn) TrySend(b []byte) error {
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsStatusConn) Close() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

// StatusStream pushes the status report to websocket watchers whenever it
// changes, polling at Interval.
type StatusStream struct {
	status   core.StatusProvider
	interval time.Duration
	limiter  *ConnRateLimiter
}

func NewStatusStream(status core.StatusProvider, interval time.Duration, limiter *ConnRateLimiter) *StatusStream {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusStream{status: status, interval: interval, limiter: limiter}
}

func (s *StatusStream) Handle(ctx context.Context, c *gin.Context) {
	ip := c.ClientIP()
	if s.limiter != nil && !s.limiter.Allow(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("ip", ip).Msg("status watcher connected")

	conn := &wsStatusConn{conn: ws, send: make(chan []byte, 16)}
	ctx, cancel := context.WithCancel(ctx)
	refresh := make(chan struct{}, 1)

	go s.writePump(ctx, cancel, conn)
	go s.pushLoop(ctx, cancel, conn, refresh)
	go s.readPump(ctx, cancel, ip, conn, refresh)
}

func (s *StatusStream) frame() ([]byte, error) {
	return json.Marshal(statusFrame{Type: "status", StatusReport: s.status.Status()})
}

// pushLoop sends the report once at start and again only when it changes.
func (s *StatusStream) pushLoop(ctx context.Context, cancel context.CancelFunc, c *wsStatusConn, refresh <-chan struct{}) {
	defer cancel()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last []byte
	push := func(force bool) bool {
		b, err := s.frame()
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("status marshal")
			return true
		}
		if !force && bytes.Equal(b, last) {
			return true
		}
		if err := c.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("dropping slow status watcher")
			return false
		}
		last = b
		return true
	}

	if !push(true) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh:
			if !push(true) {
				return
			}
		case <-ticker.C:
			if !push(false) {
				return
			}
		}
	}
}

func (s *StatusStream) writePump(ctx context.Context, cancel context.CancelFunc, c *wsStatusConn) {
	defer func() {
		cancel()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump handles {"type":"status"} (push now) and {"type":"ping"}.
// Any read error ends the connection.
func (s *StatusStream) readPump(ctx context.Context, cancel context.CancelFunc, ip string, c *wsStatusConn, refresh chan<- struct{}) {
	defer func() {
		log.Info().Str("module", "adapters.http").Str("ip", ip).Msg("status watcher closing")
		cancel()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("bad json")
			continue
		}
		switch env.Type {
		case "status":
			select {
			case refresh <- struct{}{}:
			default:
			}
		case "ping":
			_ = c.TrySend([]byte(`{"type":"pong"}`))
		default:
			log.Warn().Str("module", "adapters.http").Str("type", env.Type).Msg("unknown message")
		}
	}
}

// ConnRateLimiter allows at most limit new connections per key per interval.
// Keys with no attempt inside the window are swept once per interval.
type ConnRateLimiter struct {
	mu        sync.Mutex
	history   map[string][]time.Time
	limit     int
	interval  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewConnRateLimiter(limit int, interval time.Duration) *ConnRateLimiter {
	return &ConnRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *ConnRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	if now.Sub(rl.lastSweep) >= rl.interval {
		rl.sweep(windowStart)
		rl.lastSweep = now
	}

	fresh := prune(rl.history[key], windowStart)
	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}
	rl.history[key] = append(fresh, now)
	return true
}

func (rl *ConnRateLimiter) sweep(windowStart time.Time) {
	for key, attempts := range rl.history {
		if fresh := prune(attempts, windowStart); len(fresh) == 0 {
			delete(rl.history, key)
		} else {
			rl.history[key] = fresh
		}
	}
}

// prune keeps the attempts after windowStart.
func prune(attempts []time.Time, windowStart time.Time) []time.Time {
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
