// Package mqtt publishes channel changes and device errors to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/config"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt: connection failed")

// Client is the part of the paho client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher is a device.Observer that forwards notifications to a broker.
//
// Topics:
//
//	<prefix>/<rom>/<channel>  {"old":..,"new":..}
//	<prefix>/errors           "<rom>: <error>"
//	<prefix>/status           online|offline (retained)
type Publisher struct {
	client Client
	prefix string
	qos    byte
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ device.Observer = (*Publisher)(nil)

// New wraps a connected client.
func New(client Client, prefix string, qos byte, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, prefix: prefix, qos: qos, log: log}
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig, log zerolog.Logger) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic(cfg.TopicPrefix), "offline", cfg.QoS, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := New(client, cfg.TopicPrefix, cfg.QoS, log)
	p.publish(statusTopic(cfg.TopicPrefix), true, []byte("online"))
	log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	return p, nil
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

// ChannelTopic returns the topic of one device channel.
func (p *Publisher) ChannelTopic(addr onewire.Address, ch int) string {
	return fmt.Sprintf("%s/%s/%d", p.prefix, dallas.RomString(addr), ch)
}

// ErrorTopic returns the topic of device errors.
func (p *Publisher) ErrorTopic() string {
	return p.prefix + "/errors"
}

type changePayload struct {
	Old uint16 `json:"old"`
	New uint16 `json:"new"`
}

func (p *Publisher) ChannelChanged(c device.Change) {
	payload, err := json.Marshal(changePayload{Old: c.Old, New: c.New})
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode change")
		return
	}
	p.publish(p.ChannelTopic(c.Addr, c.Channel), false, payload)
}

func (p *Publisher) ErrorOccurred(addr onewire.Address, err error) {
	p.publish(p.ErrorTopic(), false, []byte(dallas.RomString(addr)+": "+err.Error()))
}

func (p *Publisher) PassCompleted() {}

// publish sends without blocking the polling goroutine. Messages after Close
// are dropped.
func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.send(topic, retained, payload)
}

// send must be called with mu held.
func (p *Publisher) send(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, p.qos, retained, payload)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// Close publishes the offline status, waits for pending publishes and
// disconnects. Later notifications are ignored.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.send(statusTopic(p.prefix), true, []byte("offline"))
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
