package config

import (
	"reflect"
	"strings"

	logx "embycord/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between oldCfg and
// newCfg, with log fields describing the new values. Secrets (API keys,
// tokens, webhook URLs) are reported only as "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.name", newCfg.Server.Name))
	}

	oe, ne := oldCfg.Emby, newCfg.Emby
	if oe.URL != ne.URL || oe.APIKey != ne.APIKey || oe.UserID != ne.UserID ||
		oe.Timeout != ne.Timeout || oe.WebSocketEnabled() != ne.WebSocketEnabled() ||
		oe.ServerNameTTL != ne.ServerNameTTL || oe.Breaker != ne.Breaker {
		changed = append(changed, "emby")
		attrs = append(attrs,
			logx.String("emby.url", ne.URL),
			logx.Bool("emby.api_key_set", set(ne.APIKey)),
			logx.Bool("emby.websocket", ne.WebSocketEnabled()),
			logx.String("emby.timeout", ne.Timeout),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.Int("poller.max_attempts", newCfg.Poller.MaxAttempts),
			logx.String("poller.max_age", newCfg.Poller.MaxAge),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.String("dispatch.timeout", newCfg.Dispatch.Timeout))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", set(newCfg.HTTP.Token)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
			logx.Int("http.rate_limit", newCfg.HTTP.RateLimit),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if st := newCfg.Storage; st != nil {
			attrs = append(attrs,
				logx.String("storage.driver", st.Driver),
				logx.String("storage.retention", st.Retention),
				logx.String("storage.prune_schedule", st.PruneSchedule),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Destinations, newCfg.Destinations) {
		changed = append(changed, "destinations")
		enabled := 0
		for _, d := range newCfg.Destinations {
			if d.Enabled {
				enabled++
			}
		}
		attrs = append(attrs,
			logx.Int("destinations.count", len(newCfg.Destinations)),
			logx.Int("destinations.enabled", enabled),
		)
	}

	return changed, attrs
}
