// Package mqttclient publishes caption job events to an MQTT broker.
package mqttclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string // prefix; events go to {Topic}/{event}
	Username  string
	Password  string
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: normalizePrefix(opts.Topic),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish JSON-encodes v and publishes it to {prefix}/{event} at QoS 1.
func (c *Client) Publish(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	topic := c.Topic(event)
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out: " + topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	c.log.Debug().Str("topic", topic).Int("payload_size", len(payload)).Msg("mqtt event published")
	return nil
}

// Topic returns the full topic for an event name.
func (c *Client) Topic(event string) string {
	return c.prefix + "/" + strings.Trim(event, "/")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func normalizePrefix(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" || strings.ContainsAny(p, "#+") {
		return "captioner/jobs"
	}
	return p
}
