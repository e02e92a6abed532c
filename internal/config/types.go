package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// String values may reference environment variables as ${NAME}.
type Config struct {
	Server       ServerConfig        `json:"server"`
	Emby         EmbyConfig          `json:"emby"`
	Poller       PollerConfig        `json:"poller"`
	Dispatch     DispatchConfig      `json:"dispatch"`
	HTTP         HTTPConfig          `json:"http"`
	Logging      LoggingConfig       `json:"logging"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Destinations []DestinationConfig `json:"destinations" validate:"dive"`
}

// ServerConfig describes the media server as shown in notifications.
type ServerConfig struct {
	// Name is used when a destination enables server_name_override. When
	// empty the name reported by Emby's /System/Info is used.
	Name string `json:"name,omitempty" validate:"max=100"`
}

// EmbyConfig points at the Emby server. With an empty URL the service runs
// in API-only mode: items arrive via HTTP and every lookup fails.
type EmbyConfig struct {
	URL    string `json:"url" validate:"omitempty,url"`
	APIKey string `json:"api_key,omitempty"` // never logged
	UserID string `json:"user_id,omitempty"`
	// Timeout bounds one REST call (default 15s).
	Timeout string `json:"timeout,omitempty"`
	// WebSocket subscribes to LibraryChanged events (default true).
	WebSocket *bool `json:"websocket,omitempty"`
	// ServerNameTTL caches /System/Info (default 10m).
	ServerNameTTL string        `json:"server_name_ttl,omitempty"`
	Breaker       BreakerConfig `json:"breaker"`
}

type BreakerConfig struct {
	Failures    uint32 `json:"failures,omitempty"`     // default 5
	OpenTimeout string `json:"open_timeout,omitempty"` // default 30s
}

// PollerConfig controls the pending-item poller.
//
// max_attempts and max_age of 0 keep items queued until metadata appears.
type PollerConfig struct {
	Interval    string `json:"interval,omitempty"` // default 5s
	MaxAttempts int    `json:"max_attempts,omitempty" validate:"gte=0"`
	MaxAge      string `json:"max_age,omitempty"`
}

type DispatchConfig struct {
	Timeout   string `json:"timeout,omitempty"` // default 10s
	UserAgent string `json:"user_agent,omitempty"`
}

// HTTPConfig controls the intake API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8095").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:8095"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	// RateLimit caps /api/v1 requests per client IP per minute; 0 disables.
	RateLimit     int    `json:"rate_limit,omitempty" validate:"gte=0"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiscord mirrors warn+ log lines to an operator webhook.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url,omitempty"` // do not log
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// StorageConfig controls the optional delivery audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/deliveries.db", "retention": "720h" }
type StorageConfig struct {
	Driver        string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`   // sqlite only
	Retention     string `json:"retention,omitempty"`      // 0 keeps everything
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron spec, default "@daily"
}

// DestinationConfig is one Discord webhook target.
type DestinationConfig struct {
	Name               string `json:"name,omitempty" validate:"max=64"`
	UserID             string `json:"user_id,omitempty"`
	Enabled            bool   `json:"enabled"`
	WebhookURL         string `json:"webhook_url" validate:"omitempty,url"` // do not log
	AvatarURL          string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Username           string `json:"username,omitempty" validate:"max=80"`
	EmbedColor         string `json:"embed_color,omitempty"`
	Mention            string `json:"mention,omitempty"`
	ServerNameOverride bool   `json:"server_name_override,omitempty"`
	MediaAddedOverride bool   `json:"media_added_override,omitempty"`
}

// WebSocketEnabled defaults to true when the field is omitted.
func (e EmbyConfig) WebSocketEnabled() bool {
	return e.WebSocket == nil || *e.WebSocket
}
