package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

const (
	userAgent       = "DiscordBot (https://github.com/dkeye/tsstatus, 1.0)"
	maxResponseBody = 1 << 20

	codeUnknownChannel = 10003
	codeUnknownMessage = 10008
)

type RESTConfig struct {
	Token             string
	APIBase           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Method     string
	Path       string
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("discord %s %s: %d %s (code %d)", e.Method, e.Path, e.Status, msg, e.Code)
}

// RetryDelay is how long the API asked us to back off, or zero.
func (e *APIError) RetryDelay() time.Duration { return e.RetryAfter }

// Unwrap classifies the failure for the caller. A missing target and a
// permission refusal are permanent; everything else may succeed later.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound, e.Code == codeUnknownChannel, e.Code == codeUnknownMessage:
		return domain.ErrDisplayMissing
	case e.Status == http.StatusForbidden:
		return domain.ErrDisplayRejected
	default:
		return nil
	}
}

// Client is a throttled REST client for the bot API. The zero value is not
// valid for use.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

var _ core.DisplayClient = (*Client)(nil)

func NewClient(cfg RESTConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		base:    strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// wait blocks until the limiter admits one request or ctx ends.
func (c *Client) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return errors.New("invalid limiter configuration")
	}
	t := time.NewTimer(r.Delay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("discord %s %s: encode: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("discord %s %s: read: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Code:    int(gjson.GetBytes(data, "code").Int()),
			Message: gjson.GetBytes(data, "message").String(),
		}
		if ra := gjson.GetBytes(data, "retry_after"); ra.Exists() {
			apiErr.RetryAfter = time.Duration(ra.Float() * float64(time.Second))
		}
		return nil, apiErr
	}
	return data, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID snowflake.ID, msg domain.OutgoingMessage) (snowflake.ID, error) {
	data, err := c.do(ctx, http.MethodPost, "/channels/"+channelID.String()+"/messages", newMessagePayload(msg))
	if err != nil {
		return 0, err
	}
	id, err := snowflake.ParseString(gjson.GetBytes(data, "id").String())
	if err != nil {
		return 0, fmt.Errorf("discord: created message has no id: %w", err)
	}
	return id, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID snowflake.ID, content domain.DisplayContent) error {
	path := "/channels/" + channelID.String() + "/messages/" + messageID.String()
	_, err := c.do(ctx, http.MethodPatch, path, newMessagePayload(domain.OutgoingMessage{Embed: &content}))
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID) error {
	_, err := c.do(ctx, http.MethodDelete, "/channels/"+channelID.String()+"/messages/"+messageID.String(), nil)
	return err
}

func (c *Client) FetchChannel(ctx context.Context, channelID snowflake.ID) (domain.ChannelInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/channels/"+channelID.String(), nil)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	var info domain.ChannelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("discord: decode channel: %w", err)
	}
	return info, nil
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID snowflake.ID) error {
	_, err := c.do(ctx, http.MethodGet, "/channels/"+channelID.String()+"/messages/"+messageID.String(), nil)
	return err
}

func (c *Client) RenameChannel(ctx context.Context, channelID snowflake.ID, name string) error {
	_, err := c.do(ctx, http.MethodPatch, "/channels/"+channelID.String(), map[string]string{"name": name})
	return err
}
