// Package mqttclient publishes notifications to an MQTT broker.
package mqttclient

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Client struct {
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
	qos       byte
}

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		log: opts.Log,
		qos: opts.QoS,
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

func (c *Client) onConnect(mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends payload to topic and waits up to five seconds for the
// broker to accept it.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.conn.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
