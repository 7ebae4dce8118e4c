package wsgate

import "time"

type Config struct {
	// URL of the gateway websocket endpoint, e.g. "ws://127.0.0.1:8765/session".
	URL string `json:"url"`
	// Token is sent in the auth frame right after the socket opens.
	Token string `json:"token"`

	// CountryCode replaces a leading-zero local prefix during recipient
	// normalization, e.g. "49" turns "0155512345" into "4915551234567".
	CountryCode string `json:"country_code"`
	// Suffix is appended to every normalized recipient. Defaults to "@c.us".
	Suffix string `json:"suffix"`

	// RatePerSec caps outgoing sends across the whole session. This is a
	// safety net under the per-job delay, not a replacement for it.
	RatePerSec int `json:"rate_per_sec"`

	// MediaDir is where remote media is cached. Defaults to a per-process
	// temp directory.
	MediaDir string `json:"media_dir"`
	// MediaRetryMax bounds download attempts per URL (default 3).
	MediaRetryMax int `json:"media_retry_max"`

	SendTimeout time.Duration `json:"send_timeout"`
	PingEvery   time.Duration `json:"ping_every"`
}

func (c Config) withDefaults() Config {
	if c.Suffix == "" {
		c.Suffix = "@c.us"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.MediaRetryMax <= 0 {
		c.MediaRetryMax = 3
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 25 * time.Second
	}
	return c
}
