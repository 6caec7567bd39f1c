// Package bus provides in-process pub/sub over an embedded NATS server.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects published by the service.
const (
	SubjectCameraReconfigured = "camera.reconfigured"
	SubjectCameraControl      = "camera.control"
	SubjectStreamingState     = "streaming.state"
	SubjectConfigChanged      = "config.changed"
)

// DefaultPort is the embedded NATS listen port.
const DefaultPort = 12101

// EventBus is an embedded NATS server plus a client connection to it.
// Everything in the process publishes and subscribes through here.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.Mutex
}

// Config configures the event bus.
type Config struct {
	Host string
	Port int
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}
	eb.logger.Info("event bus started", "url", ns.ClientURL())
	return eb, nil
}

// ClientURL returns the NATS client URL.
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish marshals v as JSON and publishes it on subject.
func (eb *EventBus) Publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe registers a handler for a subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	for _, sub := range eb.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(eb.subs, subject)
}

// HealthCheck verifies the client connection is alive.
func (eb *EventBus) HealthCheck() error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	return nil
}

// Stop drains the connection and shuts the server down.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("event bus stopped")
}
