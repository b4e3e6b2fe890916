package mqtt

import (
	"cmp"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"sensorlog/internal/source"
)

const (
	defaultFilter        = "sensors/#"
	defaultQoS           = 1
	defaultKeepAlive     = 30 * time.Second
	defaultSessionExpiry = 5 * time.Minute
)

// NewFactory returns a Factory for MQTT sources.
//
// Supported parameters:
//   - "broker": comma-separated server URLs, e.g. "mqtt://localhost:1883"
//     (required; tls/ssl/mqtts/ws/wss schemes select the transport)
//   - "topic": topic filter to subscribe to (default: "sensors/#")
//   - "qos": 0, 1 or 2 (default: 1)
//   - "client_id": MQTT client identifier (default: "sensorlog-<id>")
//   - "username", "password": optional credentials
//   - "keep_alive": ping interval as a Go duration (default: "30s")
//   - "session_expiry": broker-side session lifetime (default: "5m")
//   - "clean_start": "true" discards server session state on first connect
func NewFactory() source.Factory {
	return func(id string, params map[string]string, logger *slog.Logger) (source.Source, error) {
		broker := params["broker"]
		if broker == "" {
			return nil, fmt.Errorf("mqtt source: broker param is required")
		}

		var servers []*url.URL
		for _, raw := range strings.Split(broker, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("mqtt source: invalid broker url %q: %w", raw, err)
			}
			if u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("mqtt source: broker url %q must be scheme://host:port", raw)
			}
			servers = append(servers, u)
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("mqtt source: broker param is required")
		}

		qos := byte(defaultQoS)
		if v, ok := params["qos"]; ok {
			switch v {
			case "0", "1", "2":
				qos = v[0] - '0'
			default:
				return nil, fmt.Errorf("mqtt source: invalid qos %q (must be 0, 1 or 2)", v)
			}
		}

		keepAlive, err := secondsParam(params, "keep_alive", defaultKeepAlive)
		if err != nil {
			return nil, err
		}
		sessionExpiry, err := secondsParam(params, "session_expiry", defaultSessionExpiry)
		if err != nil {
			return nil, err
		}

		return New(Config{
			ID:            id,
			Servers:       servers,
			Filter:        cmp.Or(params["topic"], defaultFilter),
			QoS:           qos,
			ClientID:      cmp.Or(params["client_id"], "sensorlog-"+id),
			Username:      params["username"],
			Password:      params["password"],
			KeepAlive:     uint16(keepAlive),
			SessionExpiry: uint32(sessionExpiry),
			CleanStart:    params["clean_start"] == "true",
			Logger:        logger,
		}), nil
	}
}

// secondsParam parses a duration param and returns it in whole seconds.
func secondsParam(params map[string]string, key string, def time.Duration) (int64, error) {
	d := def
	if v, ok := params[key]; ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("mqtt source: invalid %s %q: %w", key, v, err)
		}
		if parsed < time.Second {
			return 0, fmt.Errorf("mqtt source: %s must be at least 1s, got %v", key, parsed)
		}
		d = parsed
	}
	return int64(d / time.Second), nil
}
