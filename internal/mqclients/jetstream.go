package mqclients

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream limits used when the gateway creates its own stream.
const (
	jetStreamMaxAge         = 5 * time.Minute
	jetStreamMaxPerSubject  = 1_000_000
	jetStreamSubjectPattern = "%s.*"
)

func init() {
	register("jetstream", func() MQClient { return &JetStreamClient{} })
}

// JetStreamClient publishes every payload to "<channel>.<name>" on a stream
// named after the channel. The stream is created or updated on connect.
type JetStreamClient struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream

	channel string
}

func (c *JetStreamClient) String() string  { return "jetstream" }
func (c *JetStreamClient) Channel() string { return c.channel }

func (c *JetStreamClient) streamConfig(interest bool) jetstream.StreamConfig {
	config := jetstream.StreamConfig{
		Name:              c.channel,
		Subjects:          []string{fmt.Sprintf(jetStreamSubjectPattern, c.channel)},
		Retention:         jetstream.WorkQueuePolicy,
		Discard:           jetstream.DiscardOld,
		MaxAge:            jetStreamMaxAge,
		Storage:           jetstream.MemoryStorage,
		MaxMsgsPerSubject: jetStreamMaxPerSubject,
		MaxMsgSize:        math.MaxInt32,
	}

	if interest {
		config.Retention = jetstream.InterestPolicy
	}

	return config
}

func (c *JetStreamClient) Connect(ctx context.Context, clientName string, args map[string]any) error {
	opts := clientArgs(args)

	var address string

	if err := opts.require("jetstream", []string{"Address", "Channel"}, &address, &c.channel); err != nil {
		return err
	}

	nc, err := nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("jetstream: dial nats: %w", err)
	}

	c.nc = nc

	if c.js, err = jetstream.New(nc); err != nil {
		c.Close()

		return fmt.Errorf("jetstream: %w", err)
	}

	c.stream, err = c.js.CreateOrUpdateStream(ctx, c.streamConfig(opts.boolean("UseInterestPolicy", false)))
	if err != nil {
		c.Close()

		return fmt.Errorf("jetstream: stream %s: %w", c.channel, err)
	}

	return nil
}

func (c *JetStreamClient) Publish(ctx context.Context, channelName string, data []byte) error {
	_, err := c.js.Publish(ctx, c.channel+"."+channelName, data)

	return err
}

func (c *JetStreamClient) Close() {
	if c.nc == nil {
		return
	}

	c.nc.Close()
	c.nc = nil
}
