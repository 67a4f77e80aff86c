package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}

	var errs []error
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be greater than 0"))
	}

	switch c.Stream.Transport {
	case TransportWebSocket:
		if err := validateURL("stream.websocket_url", c.Stream.WebSocketURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	case TransportMQTT:
		if err := validateURL("stream.mqtt_broker", c.Stream.MQTTBroker, "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"); err != nil {
			errs = append(errs, err)
		}
		if strings.TrimSpace(c.Stream.MQTTTopic) == "" {
			errs = append(errs, errors.New("stream.mqtt_topic is required for the mqtt transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.transport %q is not supported (must be %s or %s)",
			c.Stream.Transport, TransportWebSocket, TransportMQTT))
	}

	r := c.Retry
	if r.Interval <= 0 {
		errs = append(errs, errors.New("retry.interval must be greater than 0"))
	}
	if r.Multiplier < 0 {
		errs = append(errs, errors.New("retry.multiplier cannot be negative"))
	}
	if r.MaxInterval != 0 && r.MaxInterval < r.Interval {
		errs = append(errs, errors.New("retry.max_interval cannot be less than retry.interval"))
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts cannot be negative"))
	}
	if c.Heartbeat.StaleAfter < 0 {
		errs = append(errs, errors.New("heartbeat.stale_after cannot be negative"))
	}

	for _, h := range []struct {
		name string
		size int
	}{
		{"history.detections", c.History.Detections},
		{"history.batches", c.History.Batches},
		{"history.zone_crossings", c.History.ZoneCrossings},
		{"history.events", c.History.Events},
		{"history.notifications", c.History.Notifications},
	} {
		if h.size <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than 0", h.name))
		}
	}

	if c.Offline.Enabled && strings.TrimSpace(c.Offline.Path) == "" {
		errs = append(errs, errors.New("offline.path is required when the offline cache is enabled"))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level %q is not a valid level", c.Log.Level))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL format: %w", field, err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s: unsupported URL scheme %q (must be one of %s)", field, u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL must include host", field)
	}
	return nil
}
