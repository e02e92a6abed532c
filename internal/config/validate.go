package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"embycord/internal/discord"
	"embycord/internal/storage"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	structCheck  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structCheck = validator.New(validator.WithRequiredStructEnabled())
	})
	return structCheck
}

// Validate checks struct tags first, then the rules tags cannot express.
// All problems are joined into one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("emby.timeout", cfg.Emby.Timeout)
	check("emby.server_name_ttl", cfg.Emby.ServerNameTTL)
	check("emby.breaker.open_timeout", cfg.Emby.Breaker.OpenTimeout)
	check("poller.interval", cfg.Poller.Interval)
	check("poller.max_age", cfg.Poller.MaxAge)
	check("dispatch.timeout", cfg.Dispatch.Timeout)
	check("http.read_timeout", cfg.HTTP.ReadTimeout)
	check("http.write_timeout", cfg.HTTP.WriteTimeout)
	check("http.idle_timeout", cfg.HTTP.IdleTimeout)

	if cfg.Emby.URL != "" && strings.TrimSpace(cfg.Emby.APIKey) == "" {
		errs = append(errs, errors.New("emby.api_key: required when emby.url is set"))
	}

	if lvl := cfg.Logging.Level; lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if d := cfg.Logging.Discord; d.Enabled {
		if d.MinLevel != "" && !logx.ValidLevel(d.MinLevel) {
			errs = append(errs, fmt.Errorf("logging.discord.min_level: unknown level %q", d.MinLevel))
		}
		if err := webhook.ValidateURL(d.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("logging.discord.webhook_url: %w", err))
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	if cfg.HTTP.Enabled {
		errs = append(errs, validateHTTPExposure(cfg.HTTP)...)
	}

	if st := cfg.Storage; st != nil {
		drv := strings.ToLower(strings.TrimSpace(st.Driver))
		if drv != "" && drv != "none" && strings.TrimSpace(st.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for driver "+drv))
		}
		check("storage.busy_timeout", st.BusyTimeout)
		check("storage.retention", st.Retention)
		if err := storage.ValidateSchedule(st.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("storage.prune_schedule: %w", err))
		}
	}

	for i, d := range cfg.Destinations {
		errs = append(errs, validateDestination(i, d)...)
	}
	return errors.Join(errs...)
}

func validateDestination(i int, d DestinationConfig) []error {
	path := fmt.Sprintf("destinations[%d]", i)
	var errs []error
	if d.EmbedColor != "" {
		if _, err := discord.ParseColor(d.EmbedColor); err != nil {
			errs = append(errs, fmt.Errorf("%s.embed_color: %w", path, err))
		}
	}
	if _, err := discord.ParseMention(d.Mention); err != nil {
		errs = append(errs, fmt.Errorf("%s.mention: %w", path, err))
	}
	// an empty URL leaves the destination configured but undeliverable
	if d.WebhookURL != "" {
		if err := webhook.ValidateURL(d.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("%s.webhook_url: %w", path, err))
		}
	}
	return errs
}

// validateHTTPExposure refuses a public unauthenticated listener unless the
// operator opted in with allow_insecure.
func validateHTTPExposure(h HTTPConfig) []error {
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return []error{fmt.Errorf("http.addr: %w", err)}
	}
	if IsLoopbackHost(host) || strings.TrimSpace(h.Token) != "" || h.AllowInsecure {
		return nil
	}
	return []error{fmt.Errorf("http.addr: %q is not loopback; set http.token or http.allow_insecure", addr)}
}

// IsLoopbackHost reports whether host only accepts local connections.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParseDurationField parses an optional duration; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validator adapts Validate to ConfigManager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }
