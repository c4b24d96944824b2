package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/tsstatus/internal/adapters/discord"
	httpadapter "github.com/dkeye/tsstatus/internal/adapters/http"
	"github.com/dkeye/tsstatus/internal/adapters/mqtt"
	"github.com/dkeye/tsstatus/internal/adapters/teamspeak"
	"github.com/dkeye/tsstatus/internal/app"
)

type TeamSpeakConfig struct {
	Host      string        `mapstructure:"host"`
	QueryPort int           `mapstructure:"query_port"`
	VoicePort int           `mapstructure:"voice_port"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Nickname  string        `mapstructure:"nickname"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Keepalive time.Duration `mapstructure:"keepalive"`
}

type DiscordConfig struct {
	Token             string        `mapstructure:"token"`
	APIBase           string        `mapstructure:"api_base"`
	GatewayURL        string        `mapstructure:"gateway_url"`
	CountChannelID    string        `mapstructure:"count_channel_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type DisplayConfig struct {
	Title             string `mapstructure:"title"`
	Color             int    `mapstructure:"color"`
	CreateKeyword     string `mapstructure:"create_keyword"`
	MaxUsernameLength int    `mapstructure:"max_username_length"`
	CountTemplate     string `mapstructure:"count_template"`
}

type SchedulerConfig struct {
	Tick                 time.Duration `mapstructure:"tick"`
	UpdateInterval       time.Duration `mapstructure:"update_interval"`
	ForceRefreshInterval time.Duration `mapstructure:"force_refresh_interval"`
	MinEditSpacing       time.Duration `mapstructure:"min_edit_spacing"`
	CountInterval        time.Duration `mapstructure:"count_interval"`
	RenameWindow         time.Duration `mapstructure:"rename_window"`
	RenameLimit          int           `mapstructure:"rename_limit"`
	RenameSpacing        time.Duration `mapstructure:"rename_spacing"`
}

type SupervisorConfig struct {
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	ConnectFailureDelay time.Duration `mapstructure:"connect_failure_delay"`
}

type FilterConfig struct {
	ExcludeDefaultInStatus bool     `mapstructure:"exclude_default_in_status"`
	ExcludeDefaultInCount  bool     `mapstructure:"exclude_default_in_count"`
	IgnorePatterns         []string `mapstructure:"ignore_patterns"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	TeamSpeak  TeamSpeakConfig  `mapstructure:"teamspeak"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Display    DisplayConfig    `mapstructure:"display"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Store      StoreConfig      `mapstructure:"store"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Log        LogConfig        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("teamspeak.host", "")
	v.SetDefault("teamspeak.query_port", 10011)
	v.SetDefault("teamspeak.voice_port", 9987)
	v.SetDefault("teamspeak.username", "")
	v.SetDefault("teamspeak.password", "")
	v.SetDefault("teamspeak.nickname", "")
	v.SetDefault("teamspeak.timeout", "10s")
	v.SetDefault("teamspeak.keepalive", "60s")

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("discord.gateway_url", "wss://gateway.discord.gg/?v=10&encoding=json")
	v.SetDefault("discord.count_channel_id", "")
	v.SetDefault("discord.requests_per_second", 5)
	v.SetDefault("discord.burst", 5)
	v.SetDefault("discord.timeout", "15s")

	v.SetDefault("display.title", "TS Status")
	v.SetDefault("display.color", 0xFF69B4)
	v.SetDefault("display.create_keyword", "create")
	v.SetDefault("display.max_username_length", 15)
	v.SetDefault("display.count_template", "TeamSpeak: %COUNT%📞")

	v.SetDefault("scheduler.tick", "5s")
	v.SetDefault("scheduler.update_interval", "10s")
	v.SetDefault("scheduler.force_refresh_interval", "180s")
	v.SetDefault("scheduler.min_edit_spacing", "5s")
	v.SetDefault("scheduler.count_interval", "60s")
	v.SetDefault("scheduler.rename_window", "10m")
	v.SetDefault("scheduler.rename_limit", 2)
	v.SetDefault("scheduler.rename_spacing", "61s")

	v.SetDefault("supervisor.reconnect_delay", "5s")
	v.SetDefault("supervisor.connect_failure_delay", "30s")

	v.SetDefault("filter.exclude_default_in_status", true)
	v.SetDefault("filter.exclude_default_in_count", true)
	v.SetDefault("filter.ignore_patterns", app.DefaultIgnorePatterns)

	v.SetDefault("store.path", "embedData.json")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.jwt_secret", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "tsstatus/occupancy")
	v.SetDefault("mqtt.client_id", "tsstatus")

	v.SetDefault("log.level", "info")
}

// Environment names used by earlier deployments of the bot.
func bindLegacyEnv(v *viper.Viper) error {
	binds := map[string][]string{
		"discord.token":            {"DISCORD_TOKEN"},
		"discord.count_channel_id": {"DISCORD_COUNT_CHANNEL_ID", "DISCORD_VC_STATUS_ID"},
		"teamspeak.host":           {"TEAMSPEAK_HOST", "TS_SERVER"},
		"teamspeak.query_port":     {"TEAMSPEAK_QUERY_PORT", "TS_PORT"},
		"teamspeak.voice_port":     {"TEAMSPEAK_VOICE_PORT", "TS_VOICE_PORT"},
		"teamspeak.username":       {"TEAMSPEAK_USERNAME", "TS_USERNAME"},
		"teamspeak.password":       {"TEAMSPEAK_PASSWORD", "TS_PASSWORD"},
	}
	for key, names := range binds {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads config/config.<CONFIG_ENV>.yaml when present, then the
// environment. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName("config." + env)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("module", "config").Str("env", env).Msg("config file not found, using defaults and environment")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing credential at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.TeamSpeak.Host == "" {
		errs = append(errs, errors.New("teamspeak.host is required"))
	}
	if c.TeamSpeak.Username == "" {
		errs = append(errs, errors.New("teamspeak.username is required"))
	}
	if c.TeamSpeak.Password == "" {
		errs = append(errs, errors.New("teamspeak.password is required"))
	}
	if c.TeamSpeak.QueryPort <= 0 || c.TeamSpeak.QueryPort > 65535 {
		errs = append(errs, fmt.Errorf("teamspeak.query_port %d out of range", c.TeamSpeak.QueryPort))
	}
	if c.Discord.CountChannelID != "" {
		if _, err := snowflake.ParseString(c.Discord.CountChannelID); err != nil {
			errs = append(errs, fmt.Errorf("discord.count_channel_id: %w", err))
		}
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"teamspeak.timeout", c.TeamSpeak.Timeout},
		{"scheduler.tick", c.Scheduler.Tick},
		{"scheduler.update_interval", c.Scheduler.UpdateInterval},
		{"scheduler.force_refresh_interval", c.Scheduler.ForceRefreshInterval},
		{"scheduler.min_edit_spacing", c.Scheduler.MinEditSpacing},
		{"scheduler.count_interval", c.Scheduler.CountInterval},
		{"scheduler.rename_window", c.Scheduler.RenameWindow},
		{"scheduler.rename_spacing", c.Scheduler.RenameSpacing},
		{"supervisor.reconnect_delay", c.Supervisor.ReconnectDelay},
		{"supervisor.connect_failure_delay", c.Supervisor.ConnectFailureDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.d))
		}
	}
	if c.TeamSpeak.Keepalive < 0 {
		errs = append(errs, fmt.Errorf("teamspeak.keepalive must not be negative, got %s", c.TeamSpeak.Keepalive))
	}
	if c.Scheduler.RenameLimit < 1 {
		errs = append(errs, errors.New("scheduler.rename_limit must be at least 1"))
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

// App assumes Validate passed.
func (c *Config) App() app.Config {
	cfg := app.Config{
		StatusFilter: app.FilterPolicy{
			IgnorePatterns: c.Filter.IgnorePatterns,
			ExcludeDefault: c.Filter.ExcludeDefaultInStatus,
		},
		CountExcludeDefault: c.Filter.ExcludeDefaultInCount,
		Formatter: app.Formatter{
			Title:      c.Display.Title,
			Color:      c.Display.Color,
			MaxNameLen: c.Display.MaxUsernameLength,
		},
		Tick:                 c.Scheduler.Tick,
		UpdateInterval:       c.Scheduler.UpdateInterval,
		ForceRefreshInterval: c.Scheduler.ForceRefreshInterval,
		MinEditSpacing:       c.Scheduler.MinEditSpacing,
		CountInterval:        c.Scheduler.CountInterval,
		CountTemplate:        c.Display.CountTemplate,
		RenameLimit:          c.Scheduler.RenameLimit,
		RenameWindow:         c.Scheduler.RenameWindow,
		RenameSpacing:        c.Scheduler.RenameSpacing,
		ReconnectDelay:       c.Supervisor.ReconnectDelay,
		ConnectFailureDelay:  c.Supervisor.ConnectFailureDelay,
		CreateKeyword:        c.Display.CreateKeyword,
		CallTimeout:          c.Discord.Timeout,
	}
	if id, err := snowflake.ParseString(c.Discord.CountChannelID); err == nil {
		cfg.CountChannelID = id
	}
	return cfg
}

func (c *Config) TeamSpeakClient() teamspeak.Config {
	return teamspeak.Config{
		Host:      c.TeamSpeak.Host,
		QueryPort: c.TeamSpeak.QueryPort,
		VoicePort: c.TeamSpeak.VoicePort,
		Username:  c.TeamSpeak.Username,
		Password:  c.TeamSpeak.Password,
		Nickname:  c.TeamSpeak.Nickname,
		Timeout:   c.TeamSpeak.Timeout,
		Keepalive: c.TeamSpeak.Keepalive,
	}
}

func (c *Config) DiscordREST() discord.RESTConfig {
	return discord.RESTConfig{
		Token:             c.Discord.Token,
		APIBase:           c.Discord.APIBase,
		RequestsPerSecond: c.Discord.RequestsPerSecond,
		Burst:             c.Discord.Burst,
		Timeout:           c.Discord.Timeout,
	}
}

func (c *Config) DiscordGateway() discord.GatewayConfig {
	return discord.GatewayConfig{
		URL:   c.Discord.GatewayURL,
		Token: c.Discord.Token,
	}
}

func (c *Config) Router() httpadapter.Config {
	return httpadapter.Config{Mode: c.HTTP.Mode, JWTSecret: c.HTTP.JWTSecret}
}

func (c *Config) Publisher() mqtt.Config {
	return mqtt.Config{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
	}
}
