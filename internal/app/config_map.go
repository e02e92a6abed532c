package app

import (
	"strings"
	"time"

	"embycord/internal/config"
	"embycord/internal/destination"
	"embycord/internal/discord"
	"embycord/internal/httpapi"
	"embycord/internal/library"
	"embycord/internal/pending"
	"embycord/internal/storage"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"
)

// The map* helpers translate the on-disk config into component settings.
// They assume config.Validate has passed but still return parse errors.

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Discord: logx.DiscordConfig{
			Enabled:    l.Discord.Enabled,
			WebhookURL: l.Discord.WebhookURL,
			MinLevel:   l.Discord.MinLevel,
			RatePerSec: l.Discord.RatePerSec,
		},
	}
}

func mapDestinations(cfg *config.Config) []destination.Destination {
	out := make([]destination.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		// Validate already rejected bad mentions
		mention, _ := discord.ParseMention(d.Mention)
		out = append(out, destination.Destination{
			Name:               d.Name,
			UserID:             d.UserID,
			Enabled:            d.Enabled,
			WebhookURL:         strings.TrimSpace(d.WebhookURL),
			AvatarURL:          d.AvatarURL,
			Username:           d.Username,
			EmbedColor:         strings.TrimSpace(d.EmbedColor),
			Mention:            mention,
			ServerNameOverride: d.ServerNameOverride,
			MediaAddedOverride: d.MediaAddedOverride,
		})
	}
	return out
}

type pollerSettings struct {
	interval time.Duration
	policy   pending.Policy
}

func mapPollerSettings(cfg *config.Config) (pollerSettings, error) {
	interval, err := config.ParseDurationField("poller.interval", cfg.Poller.Interval)
	if err != nil {
		return pollerSettings{}, err
	}
	maxAge, err := config.ParseDurationField("poller.max_age", cfg.Poller.MaxAge)
	if err != nil {
		return pollerSettings{}, err
	}
	return pollerSettings{
		interval: interval,
		policy:   pending.Policy{MaxAttempts: cfg.Poller.MaxAttempts, MaxAge: maxAge},
	}, nil
}

func mapDispatchOptions(cfg *config.Config) (webhook.Options, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.timeout", cfg.Dispatch.Timeout, webhook.DefaultTimeout)
	if err != nil {
		return webhook.Options{}, err
	}
	ua := strings.TrimSpace(cfg.Dispatch.UserAgent)
	if ua == "" {
		ua = "embycord/1.0"
	}
	return webhook.Options{Timeout: timeout, UserAgent: ua}, nil
}

type embySettings struct {
	enabled   bool
	url       string
	apiKey    string
	userID    string
	timeout   time.Duration
	nameTTL   time.Duration
	websocket bool
	breaker   library.BreakerSettings
}

func mapEmbySettings(cfg *config.Config) (embySettings, error) {
	e := cfg.Emby
	timeout, err := config.ParseDurationOrDefault("emby.timeout", e.Timeout, 15*time.Second)
	if err != nil {
		return embySettings{}, err
	}
	ttl, err := config.ParseDurationOrDefault("emby.server_name_ttl", e.ServerNameTTL, 10*time.Minute)
	if err != nil {
		return embySettings{}, err
	}
	open, err := config.ParseDurationField("emby.breaker.open_timeout", e.Breaker.OpenTimeout)
	if err != nil {
		return embySettings{}, err
	}
	url := strings.TrimSpace(e.URL)
	return embySettings{
		enabled:   url != "",
		url:       url,
		apiKey:    e.APIKey,
		userID:    strings.TrimSpace(e.UserID),
		timeout:   timeout,
		nameTTL:   ttl,
		websocket: e.WebSocketEnabled(),
		breaker:   library.BreakerSettings{ConsecutiveFailures: e.Breaker.Failures, OpenTimeout: open},
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// direct notifications block for one dispatch, so leave room past it
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		RateLimit:     h.RateLimit,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

type retentionSettings struct {
	keep     time.Duration
	schedule string
}

// mapStorageConfig reports enabled=false when storage is absent or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, retentionSettings, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, retentionSettings{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, retentionSettings{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, retentionSettings{}, false, err
	}
	keep, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, retentionSettings{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy},
		retentionSettings{keep: keep, schedule: sc.PruneSchedule},
		true, nil
}
