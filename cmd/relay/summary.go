package main

import (
	"net/url"
	"strings"

	"bitriver-relay/internal/events"
	"bitriver-relay/internal/server"
)

// startupSummaryInput collects the configuration main resolved so the boot
// log can describe the deployment without leaking credentials.
type startupSummaryInput struct {
	Addr           string
	TLSEnabled     bool
	ArchiveDriver  string
	ArchivePath    string
	ArchiveDSN     string
	QueueDriver    string
	QueueConfig    events.RedisQueueConfig
	NotifyEndpoint string
	RateLimit      server.RateLimitConfig
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) *startupSummary {
	return &startupSummary{input: input}
}

// LogArgs renders the summary as slog key/value pairs.
func (s *startupSummary) LogArgs() []any {
	archive := map[string]any{"driver": s.input.ArchiveDriver}
	if s.input.ArchiveDriver == "postgres" {
		archive["dsn"] = redactDSN(s.input.ArchiveDSN)
	} else {
		archive["path"] = s.input.ArchivePath
	}

	queueDriver := strings.ToLower(strings.TrimSpace(s.input.QueueDriver))
	if queueDriver == "" {
		queueDriver = "memory"
	}
	queue := map[string]any{"driver": queueDriver}
	if queueDriver == "redis" {
		queue["addr"] = firstNonEmpty(s.input.QueueConfig.Addr, strings.Join(s.input.QueueConfig.Addrs, ","))
		queue["stream"] = s.input.QueueConfig.Stream
		queue["group"] = s.input.QueueConfig.Group
	}

	throttle := map[string]any{"driver": "memory"}
	if strings.TrimSpace(s.input.RateLimit.RedisAddr) != "" {
		throttle["driver"] = "redis"
		throttle["addr"] = s.input.RateLimit.RedisAddr
	}

	notifyInfo := map[string]any{"enabled": s.input.NotifyEndpoint != ""}
	if s.input.NotifyEndpoint != "" {
		notifyInfo["endpoint"] = redactDSN(s.input.NotifyEndpoint)
	}

	return []any{
		"addr", s.input.Addr,
		"tls", s.input.TLSEnabled,
		"archive", archive,
		"event_queue", queue,
		"start_throttle", throttle,
		"notify", notifyInfo,
	}
}

// redactDSN masks credentials embedded in a connection URL. Values that do
// not parse as URLs stay opaque instead of leaking through the logs.
func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Host == "" {
		return "configured"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "*****")
		}
	}
	if query := parsed.Query(); len(query) > 0 {
		changed := false
		for key := range query {
			if strings.Contains(strings.ToLower(key), "password") {
				query.Set(key, "*****")
				changed = true
			}
		}
		if changed {
			parsed.RawQuery = query.Encode()
		}
	}
	return parsed.String()
}
