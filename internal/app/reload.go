package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"embycord/internal/config"
	logx "embycord/pkg/logx"
)

// reloadLoop applies every published config until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// only the newest of a burst matters
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			if cfg != nil {
				a.applyConfig(ctx, cfg)
			}
		}
	}
}

// applyConfig pushes the live-reloadable parts of cfg into running
// components. Emby, dispatch and storage driver changes need a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(a.applied, cfg)
	prev := a.applied
	a.applied = cfg
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("logging") {
		a.logs.Apply(mapLogConfig(cfg))
	}
	if changed("destinations") {
		a.dests.Set(mapDestinations(cfg))
	}
	if changed("server") {
		a.names.SetStatic(cfg.Server.Name)
	}
	if changed("poller") {
		if ps, err := mapPollerSettings(cfg); err != nil {
			a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
		} else {
			a.poller.SetInterval(ps.interval)
			a.poller.SetPolicy(ps.policy)
		}
	}
	if changed("http") {
		if hc, err := mapHTTPConfig(cfg); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.api.Reconfigure(rctx, hc)
			cancel()
		}
	}
	if changed("storage") {
		a.applyStorage(prev, cfg)
	}
	for _, s := range []string{"emby", "dispatch"} {
		if changed(s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// applyStorage retunes retention in place. Driver or path changes need a
// restart since the open store cannot be swapped under the recorder.
func (a *App) applyStorage(prev, cfg *config.Config) {
	oldSC, _, oldOn, _ := mapStorageConfig(prev)
	newSC, rs, newOn, err := mapStorageConfig(cfg)
	if err != nil {
		a.log.Warn("invalid storage config; keeping previous", logx.Err(err))
		return
	}
	if oldOn != newOn || oldSC.Driver != newSC.Driver || oldSC.Path != newSC.Path {
		a.log.Warn("storage driver/path changed; restart required for changes to take effect")
		return
	}
	if a.retention == nil {
		return
	}
	if err := a.retention.Apply(rs.keep, rs.schedule); err != nil {
		a.log.Warn("retention update failed", logx.Err(err))
	}
}
