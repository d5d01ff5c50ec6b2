package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // ms
	defaultKeepAlive         = 60 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12

	// willQoS is fixed at 1 so the offline status reaches late subscribers.
	willQoS = 1
)

// buildClientOptions maps the mqtt config section onto paho options. The
// session is clean and reconnects back off between the configured delays.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID(cfg.Broker.ClientID)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// configureLWT registers the retained offline status the broker publishes
// if this client vanishes without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, id string) {
	opts.SetWill(topics.SystemStatus(), statusPayload(id, "offline", "unexpected_disconnect", time.Now()), willQoS, true)
}

// statusMessage is the retained payload on the system status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(id, status, reason string, at time.Time) string {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // string fields only
		Status:    status,
		ClientID:  id,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return string(b)
}

// clientID suffixes base so replicas never share a session.
func clientID(base string) string {
	if base == "" {
		base = DefaultTopicPrefix
	}
	return base + "-" + uuid.NewString()[:8]
}
