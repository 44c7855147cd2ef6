package mqclients

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

func init() {
	register("redis", func() MQClient { return &RedisClient{} })
}

// RedisClient uses redis PUBLISH. Connect pings once so a bad address fails
// at startup rather than on the first dispatch.
type RedisClient struct {
	rdb *redis.Client

	channel string
}

func (c *RedisClient) String() string  { return "redis" }
func (c *RedisClient) Channel() string { return c.channel }

func (c *RedisClient) Connect(ctx context.Context, clientName string, args map[string]any) error {
	opts := clientArgs(args)

	var address string

	if err := opts.require("redis", []string{"Address", "Channel"}, &address, &c.channel); err != nil {
		return err
	}

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: opts.str("Password"),
		DB:       opts.integer("DB", 0),
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			return cn.ClientSetName(ctx, clientName).Err()
		},
	})

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.Close()

		return fmt.Errorf("redis: ping %s: %w", address, err)
	}

	return nil
}

func (c *RedisClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return c.rdb.Publish(ctx, channelName, data).Err()
}

func (c *RedisClient) Close() {
	if c.rdb == nil {
		return
	}

	_ = c.rdb.Close()
	c.rdb = nil
}
