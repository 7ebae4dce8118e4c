package config

import (
	"time"

	"wablast/internal/history"
	"wablast/internal/transport/wsgate"
	logx "wablast/pkg/logx"
)

// Config is the full application config. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging logx.Config    `json:"logging"`
	Gateway GatewayConfig  `json:"gateway"`
	Server  ServerConfig   `json:"server"`
	History *HistoryConfig `json:"history,omitempty"`
}

// GatewayConfig configures the chat-network session adapter.
type GatewayConfig struct {
	URL         string `json:"url"`
	Token       string `json:"token,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`

	MediaDir      string `json:"media_dir,omitempty"`
	MediaRetryMax int    `json:"media_retry_max,omitempty"`

	SendTimeout string `json:"send_timeout,omitempty"`
	PingEvery   string `json:"ping_every,omitempty"`
}

// ServerConfig configures the local command surface.
type ServerConfig struct {
	Listen string `json:"listen"`
}

// HistoryConfig configures the delivery audit log. Omitting the section
// disables it.
type HistoryConfig struct {
	Path      string `json:"path"`
	Retention string `json:"retention,omitempty"`
	PruneSpec string `json:"prune_spec,omitempty"`
}

// Wsgate converts the raw section into the adapter config.
func (g GatewayConfig) Wsgate() (wsgate.Config, error) {
	sendTimeout, err := ParseDurationOrDefault("gateway.send_timeout", g.SendTimeout, 30*time.Second)
	if err != nil {
		return wsgate.Config{}, err
	}
	pingEvery, err := ParseDurationOrDefault("gateway.ping_every", g.PingEvery, 25*time.Second)
	if err != nil {
		return wsgate.Config{}, err
	}
	return wsgate.Config{
		URL:           g.URL,
		Token:         g.Token,
		CountryCode:   g.CountryCode,
		Suffix:        g.Suffix,
		RatePerSec:    g.RatePerSec,
		MediaDir:      g.MediaDir,
		MediaRetryMax: g.MediaRetryMax,
		SendTimeout:   sendTimeout,
		PingEvery:     pingEvery,
	}, nil
}

// History converts the raw section into the store config.
func (h *HistoryConfig) History() (history.Config, error) {
	if h == nil {
		return history.Config{}, nil
	}
	retention, err := ParseDurationOrDefault("history.retention", h.Retention, 30*24*time.Hour)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Path:      h.Path,
		Retention: retention,
		PruneSpec: h.PruneSpec,
	}, nil
}
