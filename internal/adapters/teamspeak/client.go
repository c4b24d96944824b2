package teamspeak

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

const (
	bannerLine   = "TS3"
	maxLineBytes = 1 << 20
	notifyPrefix = "notify"
	statusPrefix = "error "
)

type Config struct {
	Host      string
	QueryPort int
	VoicePort int
	Username  string
	Password  string
	Nickname  string

	// Timeout bounds the dial, the handshake and every command.
	Timeout time.Duration
	// Keepalive is the idle period after which a no-op command is sent.
	Keepalive time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.QueryPort))
}

type reply struct {
	lines []string
	err   error
}

// Client is one logged-in ServerQuery connection bound to a virtual server.
// Commands are serialized; a single reader goroutine routes status lines to
// the waiting command and notify lines to the event handler.
type Client struct {
	cfg    Config
	conn   net.Conn
	logger zerolog.Logger

	cmdMu   sync.Mutex
	replies chan reply
	lastCmd atomic.Int64

	hmu     sync.RWMutex
	onEvent func(core.VoiceEvent)
	onError func(error)
	onClose func(error)

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

var _ core.VoiceSession = (*Client)(nil)

// Dial connects, logs in and selects the virtual server.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.addr(), err)
	}
	c, err := NewClient(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the handshake over an established connection.
func NewClient(ctx context.Context, conn net.Conn, cfg Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  log.With().Str("module", "adapters.teamspeak").Str("server", cfg.addr()).Logger(),
		replies: make(chan reply, 1),
		done:    make(chan struct{}),
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLineBytes)
	sc.Split(splitLines)
	if err := c.readBanner(sc); err != nil {
		return nil, err
	}
	go c.readLoop(sc)
	if c.cfg.Keepalive > 0 {
		go c.keepalive()
	}

	if err := c.login(ctx); err != nil {
		c.shutdown(err)
		return nil, err
	}
	c.logger.Info().Int("voice_port", cfg.VoicePort).Msg("query session ready")
	return c, nil
}

func (c *Client) readBanner(sc *bufio.Scanner) error {
	if c.cfg.Timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	// Banner: "TS3" followed by a welcome line.
	for i := 0; i < 2; i++ {
		if !sc.Scan() {
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			return fmt.Errorf("read banner: %w", err)
		}
		if i == 0 && sc.Text() != bannerLine {
			return fmt.Errorf("not a query interface: banner %q", sc.Text())
		}
	}
	return nil
}

func (c *Client) login(ctx context.Context) error {
	if _, err := c.exec(ctx, command("login", "client_login_name", c.cfg.Username, "client_login_password", c.cfg.Password)); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := c.exec(ctx, command("use", "port", strconv.Itoa(c.cfg.VoicePort))); err != nil {
		return fmt.Errorf("select server on port %d: %w", c.cfg.VoicePort, err)
	}
	if c.cfg.Nickname != "" {
		if _, err := c.exec(ctx, command("clientupdate", "client_nickname", c.cfg.Nickname)); err != nil {
			// The default query nickname works just as well.
			c.logger.Warn().Err(err).Msg("set nickname failed")
		}
	}
	return nil
}

func (c *Client) readLoop(sc *bufio.Scanner) {
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
		case strings.HasPrefix(line, notifyPrefix):
			c.dispatch(line)
		case strings.HasPrefix(line, statusPrefix):
			r := reply{lines: lines}
			if st := parseStatus(line); st.ID != errIDOK && st.ID != errIDEmptyResult {
				r.err = st
			}
			lines = nil
			select {
			case c.replies <- r:
			default:
				c.logger.Warn().Str("status", line).Msg("unsolicited status line")
			}
		default:
			lines = append(lines, line)
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.shutdown(fmt.Errorf("%w: read: %w", domain.ErrTransportFatal, err))
}

func (c *Client) dispatch(line string) {
	name, rest, _ := strings.Cut(line, " ")
	ev := core.VoiceEvent{Name: strings.TrimPrefix(name, notifyPrefix), Params: map[string]string{}}
	if recs := ParseRecords(rest); len(recs) > 0 {
		ev.Params = recs[0]
	}
	c.hmu.RLock()
	fn := c.onEvent
	c.hmu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// exec sends one command and waits for its status line. ctx is honoured
// until the command is written; after that the reply is always consumed so
// the stream stays in step, bounded by the configured timeout.
func (c *Client) exec(ctx context.Context, cmd string) ([]string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.isClosed() {
		return nil, c.err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, _, _ := strings.Cut(cmd, " ")
	if c.cfg.Timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		err = fmt.Errorf("%w: write %s: %w", domain.ErrTransportFatal, name, err)
		c.shutdown(err)
		return nil, err
	}
	c.lastCmd.Store(time.Now().UnixNano())

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		t := time.NewTimer(c.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case r := <-c.replies:
		return r.lines, r.err
	case <-c.done:
		return nil, c.err()
	case <-timeout:
		err := fmt.Errorf("%w: %s: connection timed out", domain.ErrTransportFatal, name)
		c.shutdown(err)
		return nil, err
	}
}

func (c *Client) records(ctx context.Context, cmd string) ([]Record, error) {
	lines, err := c.exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, l := range lines {
		out = append(out, ParseRecords(l)...)
	}
	return out, nil
}

func (c *Client) ChannelList(ctx context.Context) ([]domain.Channel, error) {
	recs, err := c.records(ctx, "channellist -flags")
	if err != nil {
		return nil, fmt.Errorf("channellist: %w", err)
	}
	out := make([]domain.Channel, 0, len(recs))
	for _, r := range recs {
		id, err := r.Int("cid")
		if err != nil {
			return nil, fmt.Errorf("channellist: %w", err)
		}
		out = append(out, domain.Channel{
			ID:        domain.ChannelID(id),
			Name:      r["channel_name"],
			IsDefault: r["channel_flag_default"] == "1",
		})
	}
	return out, nil
}

// ClientList returns voice clients only; query connections are dropped.
func (c *Client) ClientList(ctx context.Context) ([]domain.Client, error) {
	recs, err := c.records(ctx, "clientlist")
	if err != nil {
		return nil, fmt.Errorf("clientlist: %w", err)
	}
	out := make([]domain.Client, 0, len(recs))
	for _, r := range recs {
		if r["client_type"] != "0" {
			continue
		}
		id, err := r.Int("clid")
		if err != nil {
			return nil, fmt.Errorf("clientlist: %w", err)
		}
		cid, err := r.Int("cid")
		if err != nil {
			return nil, fmt.Errorf("clientlist: %w", err)
		}
		out = append(out, domain.Client{
			ID:        domain.ClientID(id),
			Nickname:  r["client_nickname"],
			ChannelID: domain.ChannelID(cid),
		})
	}
	return out, nil
}

func (c *Client) RegisterEvent(ctx context.Context, event string, id int) error {
	args := []string{"event", event}
	if event == "channel" {
		args = append(args, "id", strconv.Itoa(id))
	}
	if _, err := c.exec(ctx, command("servernotifyregister", args...)); err != nil {
		return fmt.Errorf("servernotifyregister %s: %w", event, err)
	}
	return nil
}

func (c *Client) OnEvent(fn func(core.VoiceEvent)) {
	c.hmu.Lock()
	c.onEvent = fn
	c.hmu.Unlock()
}

func (c *Client) OnError(fn func(error)) {
	c.hmu.Lock()
	c.onError = fn
	c.hmu.Unlock()
}

// OnClose installs fn; if the connection is already gone fn fires at once.
func (c *Client) OnClose(fn func(error)) {
	c.hmu.Lock()
	c.onClose = fn
	closed := c.isClosed()
	c.hmu.Unlock()
	if closed {
		go fn(c.closeErr)
	}
}

// Quit asks the server to end the session, then closes the connection.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.exec(ctx, "quit")
	c.shutdown(nil)
	if errors.Is(err, domain.ErrTransportFatal) {
		// The server closes right after acknowledging.
		return nil
	}
	return err
}

func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) err() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return fmt.Errorf("%w: not connected", domain.ErrTransportFatal)
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.hmu.Lock()
		c.closeErr = err
		close(c.done)
		fn := c.onClose
		c.hmu.Unlock()

		_ = c.conn.Close()
		if fn != nil {
			go fn(err)
		}
		c.logger.Debug().AnErr("cause", err).Msg("query connection closed")
	})
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(c.cfg.Keepalive / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastCmd.Load()))
			if idle < c.cfg.Keepalive {
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			_, err := c.exec(ctx, "version")
			cancel()
			if err != nil && !c.isClosed() {
				c.hmu.RLock()
				fn := c.onError
				c.hmu.RUnlock()
				if fn != nil {
					fn(fmt.Errorf("keepalive: %w", err))
				}
			}
		}
	}
}
