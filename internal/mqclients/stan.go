package mqclients

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
)

func init() {
	register("stan", func() MQClient { return &StanClient{} })
}

// StanClient produces to a NATS Streaming cluster. With UseNATSConnection
// (the default) it dials NATS itself and hands the connection to stan.
type StanClient struct {
	nc   *nats.Conn
	conn stan.Conn

	channel string
	cluster string
	async   bool
}

func (c *StanClient) String() string  { return "stan" }
func (c *StanClient) Channel() string { return c.channel }
func (c *StanClient) Cluster() string { return c.cluster }

func (c *StanClient) Connect(_ context.Context, clientName string, args map[string]any) error {
	opts := clientArgs(args)

	var address string

	if err := opts.require("stan", []string{"Address", "Cluster", "Channel"}, &address, &c.cluster, &c.channel); err != nil {
		return err
	}

	c.async = opts.boolean("Async", false)

	natsOption := stan.NatsURL(address)

	if opts.boolean("UseNATSConnection", true) {
		nc, err := nats.Connect(address, nats.Name(clientName))
		if err != nil {
			return fmt.Errorf("stan: dial nats: %w", err)
		}

		c.nc = nc
		natsOption = stan.NatsConn(nc)
	}

	conn, err := stan.Connect(c.cluster, clientName, natsOption)
	if err != nil {
		c.Close()

		return fmt.Errorf("stan: connect %s: %w", c.cluster, err)
	}

	c.conn = conn

	return nil
}

func (c *StanClient) Publish(_ context.Context, channelName string, data []byte) error {
	if !c.async {
		return c.conn.Publish(channelName, data)
	}

	_, err := c.conn.PublishAsync(channelName, data, nil)

	return err
}

func (c *StanClient) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
}
