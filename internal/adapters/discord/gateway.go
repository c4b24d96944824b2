package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/dkeye/tsstatus/internal/domain"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Intents needed to see guild messages and their content.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentMessageContent
)

const writeTimeout = 5 * time.Second

var (
	errReconnectRequested = errors.New("gateway requested reconnect")
	errInvalidSession     = errors.New("gateway invalidated session")
	errZombie             = errors.New("heartbeat not acknowledged")

	// ErrGatewayAuth is returned by Run when the gateway refuses the
	// credentials or intents; retrying cannot help.
	ErrGatewayAuth = errors.New("gateway authentication rejected")
)

type GatewayConfig struct {
	URL     string
	Token   string
	Intents int

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Handlers receive gateway events. Each call runs on its own goroutine so
// slow REST work never stalls the heartbeat.
type Handlers struct {
	Ready         func(botID snowflake.ID)
	MessageCreate func(domain.IncomingMessage)
	MessageDelete func(channelID, messageID snowflake.ID)
}

type Gateway struct {
	cfg      GatewayConfig
	handlers Handlers
	dialer   *websocket.Dialer
}

func NewGateway(cfg GatewayConfig, h Handlers) *Gateway {
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Gateway{cfg: cfg, handlers: h, dialer: websocket.DefaultDialer}
}

// Run keeps a gateway session open until ctx is cancelled, reconnecting
// with exponential backoff. It returns ErrGatewayAuth if the gateway
// refuses to identify the bot.
func (g *Gateway) Run(ctx context.Context) error {
	attempt := 0
	for {
		started := time.Now()
		err := g.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrGatewayAuth) {
			return err
		}
		// A session that lived a while earns a fresh backoff.
		if time.Since(started) > g.cfg.MaxBackoff {
			attempt = 0
		}
		attempt++
		delay := backoff(attempt, g.cfg.MinBackoff, g.cfg.MaxBackoff)
		log.Warn().Err(err).Str("module", "adapters.discord").
			Int("attempt", attempt).Dur("delay", delay).Msg("gateway disconnected")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// gatewayConn serializes writes; gorilla allows one concurrent writer.
type gatewayConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *gatewayConn) send(op int, d any) error {
	b, err := json.Marshal(struct {
		Op int `json:"op"`
		D  any `json:"d"`
	}{op, d})
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (g *Gateway) session(ctx context.Context) error {
	ws, _, err := g.dialer.DialContext(ctx, g.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn := &gatewayConn{ws: ws}
	defer ws.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		// Unblocks ReadMessage.
		_ = ws.Close()
	}()

	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if op := gjson.GetBytes(data, "op").Int(); op != opHello {
		return fmt.Errorf("expected hello, got op %d", op)
	}
	interval := time.Duration(gjson.GetBytes(data, "d.heartbeat_interval").Int()) * time.Millisecond
	if interval <= 0 {
		return errors.New("hello without heartbeat interval")
	}

	if err := conn.send(opIdentify, map[string]any{
		"token":   g.cfg.Token,
		"intents": g.cfg.Intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "tsstatus",
			"device":  "tsstatus",
		},
	}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	var (
		seq   atomic.Int64
		acked atomic.Bool
	)
	seq.Store(-1)
	acked.Store(true)
	heartbeat := func() error {
		var d any
		if s := seq.Load(); s >= 0 {
			d = s
		}
		acked.Store(false)
		return conn.send(opHeartbeat, d)
	}

	hbErr := make(chan error, 1)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-t.C:
				if !acked.Load() {
					hbErr <- errZombie
					cancel()
					return
				}
				if err := heartbeat(); err != nil {
					hbErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case hb := <-hbErr:
				return hb
			default:
			}
			return classifyClose(err)
		}
		if s := gjson.GetBytes(data, "s"); s.Exists() && s.Type == gjson.Number {
			seq.Store(s.Int())
		}
		switch gjson.GetBytes(data, "op").Int() {
		case opDispatch:
			g.dispatch(gjson.GetBytes(data, "t").String(), gjson.GetBytes(data, "d"))
		case opHeartbeat:
			if err := heartbeat(); err != nil {
				return err
			}
		case opHeartbeatACK:
			acked.Store(true)
		case opReconnect:
			return errReconnectRequested
		case opInvalidSession:
			return errInvalidSession
		}
	}
}

// classifyClose maps close codes that retrying cannot fix to ErrGatewayAuth.
func classifyClose(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 4004, 4010, 4011, 4012, 4013, 4014:
			return fmt.Errorf("%w: %d %s", ErrGatewayAuth, ce.Code, ce.Text)
		}
	}
	return err
}

func (g *Gateway) dispatch(event string, d gjson.Result) {
	switch event {
	case "READY":
		id, err := snowflake.ParseString(d.Get("user.id").String())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.discord").Msg("ready without bot id")
			return
		}
		log.Info().Str("module", "adapters.discord").
			Str("user", d.Get("user.username").String()).
			Int("guilds", len(d.Get("guilds").Array())).
			Msg("gateway ready")
		if g.handlers.Ready != nil {
			go g.handlers.Ready(id)
		}
	case "MESSAGE_CREATE":
		if g.handlers.MessageCreate == nil {
			return
		}
		msg := domain.IncomingMessage{
			ID:        parseID(d.Get("id")),
			ChannelID: parseID(d.Get("channel_id")),
			GuildID:   parseID(d.Get("guild_id")),
			AuthorBot: d.Get("author.bot").Bool(),
			Content:   d.Get("content").String(),
		}
		go g.handlers.MessageCreate(msg)
	case "MESSAGE_DELETE":
		if g.handlers.MessageDelete == nil {
			return
		}
		go g.handlers.MessageDelete(parseID(d.Get("channel_id")), parseID(d.Get("id")))
	}
}

func parseID(r gjson.Result) snowflake.ID {
	id, err := snowflake.ParseString(r.String())
	if err != nil {
		return 0
	}
	return id
}
