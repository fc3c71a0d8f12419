// Package mqtt bridges courier GPS feeds from an MQTT broker into the
// realtime pipeline. Courier apps that publish positions over MQTT instead of
// the websocket go through the same throttle and broadcast path.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	Topic      string      `json:"topic"`
	QoS        byte        `json:"qos"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	TLSConfig  *tls.Config `json:"-"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "eatnow-dispatch-ingest"
	}
	if c.Topic == "" {
		c.Topic = "courier/+/location"
	}
}

// LocationSink receives validated courier samples. The realtime hub
// implements it.
type LocationSink interface {
	IngestLocation(ctx context.Context, courierID, orderID string, loc model.LatLng) error
}

// locationMessage is the wire format published by courier apps.
type locationMessage struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// IngestBridge subscribes to the courier location topic and forwards samples
// to the realtime sink and the presence registry.
type IngestBridge struct {
	cli      pahoClient
	cfg      Config
	sink     LocationSink
	registry presence.Registry
	log      corelogger.Logger
}

// NewIngestBridge connects to the broker and subscribes to the location
// topic. registry may be nil when presence refresh is handled elsewhere.
func NewIngestBridge(cfg Config, sink LocationSink, registry presence.Registry) (*IngestBridge, error) {
	if sink == nil {
		return nil, fmt.Errorf("location sink is required")
	}
	cfg.SetDefaults()
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt-ingest")
	b := &IngestBridge{cfg: cfg, sink: sink, registry: registry, log: log}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected, subscribing %s", cfg.Topic)
		if token := c.Subscribe(cfg.Topic, cfg.QoS, b.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = cli
	return b, nil
}

// newClientOptions builds mqtt client options from Config.
func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// onMessage decodes one sample and forwards it. The courier id comes from the
// topic so a client cannot publish positions for someone else's feed.
func (b *IngestBridge) onMessage(_ paho.Client, msg paho.Message) {
	courierID, ok := courierFromTopic(msg.Topic())
	if !ok {
		b.log.Warnf("drop message on unexpected topic %s", msg.Topic())
		return
	}
	var m locationMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		b.log.Errorf("drop undecodable sample from %s: %v", courierID, err)
		return
	}
	loc := model.LatLng{Lat: m.Lat, Lng: m.Lng}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.sink.IngestLocation(ctx, courierID, m.OrderID, loc); err != nil {
		b.log.Warnf("ingest sample from %s: %v", courierID, err)
		return
	}
	if b.registry != nil {
		if err := b.registry.UpdateLocation(ctx, courierID, loc); err != nil {
			b.log.Warnf("refresh presence for %s: %v", courierID, err)
		}
	}
}

// courierFromTopic extracts the courier id from courier/<id>/location.
func courierFromTopic(topic string) (string, bool) {
	const prefix, suffix = "courier/", "/location"
	if len(topic) <= len(prefix)+len(suffix) {
		return "", false
	}
	if topic[:len(prefix)] != prefix || topic[len(topic)-len(suffix):] != suffix {
		return "", false
	}
	id := topic[len(prefix) : len(topic)-len(suffix)]
	if id == "" || id == "+" {
		return "", false
	}
	return id, true
}

// Disconnect gracefully closes the MQTT connection.
func (b *IngestBridge) Disconnect() {
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
}
