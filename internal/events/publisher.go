// Package events publishes device lifecycle changes over MQTT so other
// LAN automation (dashboards, controllers) can follow discovery without
// polling the bridge API.
package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/registry"
)

// BaseTopic is the root of the bridge's MQTT namespace.
const BaseTopic = "upnpbridge"

// Options configures the publisher connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	Timeout   time.Duration
}

// Publisher mirrors registry events onto MQTT topics. Device events are
// retained so late subscribers see the current cache state.
type Publisher struct {
	log    *zap.Logger
	reg    *registry.Registry
	opts   Options
	events chan registry.Event
}

// devicePayload is the published shape of one lifecycle event.
type devicePayload struct {
	Event  registry.EventType `json:"event"`
	Device registry.Device    `json:"device"`
	TS     int64              `json:"ts"`
}

// New creates a publisher bound to a registry.
func New(log *zap.Logger, reg *registry.Registry, opts Options) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BrokerURL == "" {
		return nil, errors.New("events: broker url required")
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("upnpbridge-%d", time.Now().UnixNano())
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	p := &Publisher{
		log:    log,
		reg:    reg,
		opts:   opts,
		events: make(chan registry.Event, 64),
	}
	// Registry callbacks run on discovery goroutines; a full channel
	// drops the event rather than stalling discovery.
	reg.Subscribe(func(event registry.Event) {
		select {
		case p.events <- event:
		default:
			log.Warn("event buffer full, dropping", zap.String("uuid", event.Device.UUID))
		}
	})
	return p, nil
}

// Run connects and publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	clientOpts := paho.NewClientOptions().AddBroker(p.opts.BrokerURL)
	clientOpts.SetClientID(p.opts.ClientID)
	clientOpts.SetConnectTimeout(p.opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	if p.opts.Username != "" {
		clientOpts.SetUsername(p.opts.Username)
		clientOpts.SetPassword(p.opts.Password)
	}
	tlsConfig, err := buildTLSConfig(p.opts.TLSCA, p.opts.TLSCert, p.opts.TLSKey)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	// The embedded broker starts under the same supervisor, so the
	// first connect can race its listener; retry briefly before
	// giving up.
	client := paho.NewClient(clientOpts)
	var connectErr error
	for attempt := 0; attempt < 5; attempt++ {
		token := client.Connect()
		token.Wait()
		connectErr = token.Error()
		if connectErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
	if connectErr != nil {
		return fmt.Errorf("events: connect: %w", connectErr)
	}
	defer client.Disconnect(250)

	p.publishPresence(client)
	p.log.Info("event publisher connected", zap.String("broker", p.opts.BrokerURL))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-p.events:
			p.publishEvent(client, event)
		}
	}
}

func (p *Publisher) publishPresence(client paho.Client) {
	payload, err := json.Marshal(map[string]any{
		"online": true,
		"ts":     time.Now().Unix(),
	})
	if err != nil {
		return
	}
	topic := BaseTopic + "/bridge/presence"
	token := client.Publish(topic, 1, true, payload)
	token.Wait()
	if token.Error() != nil {
		p.log.Warn("presence publish failed", zap.Error(token.Error()))
	}
}

func (p *Publisher) publishEvent(client paho.Client, event registry.Event) {
	payload, err := json.Marshal(devicePayload{
		Event:  event.Type,
		Device: event.Device,
		TS:     time.Now().Unix(),
	})
	if err != nil {
		p.log.Error("event marshal failed", zap.Error(err))
		return
	}
	topic := DeviceTopic(event.Device.UUID)
	retained := event.Type != registry.EventExpired
	if event.Type == registry.EventExpired {
		// Clear the retained message so the device disappears for
		// late subscribers too.
		clearToken := client.Publish(topic, 1, true, []byte{})
		clearToken.Wait()
	}
	token := client.Publish(topic, 1, retained, payload)
	token.Wait()
	if token.Error() != nil {
		p.log.Warn("event publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
		return
	}
	p.log.Debug("event published",
		zap.String("topic", topic),
		zap.String("event", string(event.Type)),
	)
}

// DeviceTopic returns the topic for one device's lifecycle events.
func DeviceTopic(uuid string) string {
	return fmt.Sprintf("%s/device/%s", BaseTopic, uuid)
}

func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	config := &tls.Config{}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.RootCAs = pool
	}

	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, errors.New("both tls cert and key are required")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}
