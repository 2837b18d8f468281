package rabbit

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "chat.events"

// Config defines client config and topology defaults
type Config struct {
	URL      string
	Exchange string // topic exchange carrying every chat topic
	AppID    string

	PublishPoolSize             int
	ConsumerPrefetch            int
	ConnTimeoutSeconds          int
	PoolRetryDelayMs            int
	DialAttempts                int // initial dial; reconnects retry until Close
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int
	Dialer                      func(ctx context.Context, url string) (*amqp.Connection, error)
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.PublishPoolSize <= 0 {
		c.PublishPoolSize = 16
	}
	if c.ConsumerPrefetch <= 0 {
		c.ConsumerPrefetch = 64
	}
	if c.ConnTimeoutSeconds <= 0 {
		c.ConnTimeoutSeconds = 30
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.Dialer == nil {
		timeout := time.Duration(c.ConnTimeoutSeconds) * time.Second
		c.Dialer = func(_ context.Context, u string) (*amqp.Connection, error) {
			return amqp.DialConfig(u, amqp.Config{
				Heartbeat: 10 * time.Second,
				Locale:    "en_US",
				Dial:      amqp.DefaultDial(timeout),
			})
		}
	}
	return c
}
