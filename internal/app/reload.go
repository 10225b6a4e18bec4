package app

import (
	"context"
	"slices"
	"strings"

	"postcast/internal/config"
	"postcast/pkg/logx"
)

// Sections that are read once at startup.
var restartSections = []string{"storage", "cache", "gateway", "transfer", "poster", "http"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(newCfg))
	a.settings.Replace(newCfg.Settings, newCfg.Shortcuts)
	if err := a.tags.Replace(newCfg.TagConverters); err != nil {
		a.log.Warn("invalid tag converters; keeping previous", logx.Err(err))
	}
	a.accounts.Replace(newCfg.Accounts)
	if err := a.refresher.Apply(ctx, mapRefresh(newCfg)); err != nil {
		a.log.Warn("invalid refresh config; keeping schedule stopped", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
