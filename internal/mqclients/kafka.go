package mqclients

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
)

func init() {
	register("kafka", func() MQClient { return &KafkaClient{} })
}

// KafkaClient writes each payload as a message on the topic named by the
// channel. Connecting only builds the writer; brokers are dialed lazily.
type KafkaClient struct {
	writer *kafka.Writer

	channel string
}

var kafkaBalancers = map[string]func() kafka.Balancer{
	"crc32":      func() kafka.Balancer { return &kafka.CRC32Balancer{} },
	"hash":       func() kafka.Balancer { return &kafka.Hash{} },
	"murmur2":    func() kafka.Balancer { return &kafka.Murmur2Balancer{} },
	"roundrobin": func() kafka.Balancer { return &kafka.RoundRobin{} },
	"leastbytes": func() kafka.Balancer { return &kafka.LeastBytes{} },
}

// kafkaBalancer returns nil for unknown names, which leaves kafka-go on its
// default round robin.
func kafkaBalancer(name string) kafka.Balancer {
	if constructor, ok := kafkaBalancers[strings.ToLower(name)]; ok {
		return constructor()
	}

	return nil
}

func (c *KafkaClient) String() string  { return "kafka" }
func (c *KafkaClient) Channel() string { return c.channel }

func (c *KafkaClient) Connect(_ context.Context, _ string, args map[string]any) error {
	opts := clientArgs(args)

	var address string

	if err := opts.require("kafka", []string{"Address", "Channel"}, &address, &c.channel); err != nil {
		return err
	}

	c.writer = &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(address, ",")...),
		Balancer: kafkaBalancer(opts.str("Balancer")),
		Async:    opts.boolean("Async", false),
	}

	return nil
}

func (c *KafkaClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return c.writer.WriteMessages(ctx, kafka.Message{Topic: channelName, Value: data})
}

func (c *KafkaClient) Close() {
	if c.writer == nil {
		return
	}

	_ = c.writer.Close()
	c.writer = nil
}
