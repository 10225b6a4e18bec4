package config

import (
	"reflect"
	"sort"
	"strings"

	"postcast/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ and a few safe
// log fields describing the new values. Secrets (tokens, passwords,
// account data) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var fields []logx.Field

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		changed = append(changed, "cache")
		fields = append(fields, logx.String("cache.driver", newCfg.Cache.Driver))
	}
	if oldCfg.Gateway != newCfg.Gateway {
		changed = append(changed, "gateway")
		fields = append(fields,
			logx.String("gateway.min_interval", newCfg.Gateway.MinInterval),
			logx.String("gateway.max_flood_wait", newCfg.Gateway.MaxFloodWait),
		)
	}
	if oldCfg.Transfer != newCfg.Transfer {
		changed = append(changed, "transfer")
	}
	if oldCfg.Poster != newCfg.Poster {
		changed = append(changed, "poster")
		fields = append(fields, logx.Int("poster.concurrency", newCfg.Poster.Concurrency))
	}
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) ||
		oldCfg.HTTP.ReadTimeout != newCfg.HTTP.ReadTimeout ||
		oldCfg.HTTP.WriteTimeout != newCfg.HTTP.WriteTimeout ||
		oldCfg.HTTP.Token != newCfg.HTTP.Token ||
		oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if oldCfg.Refresh != newCfg.Refresh {
		changed = append(changed, "refresh")
		fields = append(fields, logx.String("refresh.schedule", newCfg.Refresh.Schedule))
	}
	if !reflect.DeepEqual(oldCfg.Settings, newCfg.Settings) {
		changed = append(changed, "settings")
		fields = append(fields, logx.Strs("settings.keys", sortedKeys(newCfg.Settings)))
	}
	if !reflect.DeepEqual(oldCfg.Shortcuts, newCfg.Shortcuts) {
		changed = append(changed, "shortcuts")
		fields = append(fields, logx.Int("shortcuts.count", len(newCfg.Shortcuts)))
	}
	if !reflect.DeepEqual(oldCfg.TagConverters, newCfg.TagConverters) {
		changed = append(changed, "tag_converters")
		fields = append(fields, logx.Int("tag_converters.count", len(newCfg.TagConverters)))
	}
	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		ids := make([]string, 0, len(newCfg.Accounts))
		for _, a := range newCfg.Accounts {
			ids = append(ids, a.ID)
		}
		fields = append(fields, logx.Strs("accounts.ids", ids))
	}
	return changed, fields
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
