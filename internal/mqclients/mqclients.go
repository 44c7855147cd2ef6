package mqclients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownMQClient = errors.New("no mq client with this name")
	ErrMissingArgument = errors.New("missing producer argument")
)

// MQClient publishes raw payloads to a broker.
type MQClient interface {
	String() string
	Channel() string

	Connect(ctx context.Context, clientName string, args map[string]any) error
	Publish(ctx context.Context, channelName string, data []byte) error
	Close()
}

var registry = map[string]func() MQClient{}

func register(name string, constructor func() MQClient) {
	registry[name] = constructor
}

// Names returns every registered client name in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// NewMQClient returns an unconnected client by name.
func NewMQClient(mqType string) (MQClient, error) {
	constructor, ok := registry[strings.ToLower(mqType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMQClient, mqType)
	}

	return constructor(), nil
}

// clientArgs is the free form Configuration block of a producer. Keys are
// matched without case and values read from the environment arrive as strings.
type clientArgs map[string]any

func (a clientArgs) lookup(key string) any {
	for name, value := range a {
		if strings.EqualFold(name, key) {
			return value
		}
	}

	return nil
}

func (a clientArgs) str(key string) string {
	value, _ := a.lookup(key).(string)

	return value
}

// require reads every key into the matching destination and reports the
// first one that is missing or empty.
func (a clientArgs) require(client string, keys []string, dest ...*string) error {
	for i, key := range keys {
		value := a.str(key)
		if value == "" {
			return fmt.Errorf("%s: %w: %s", client, ErrMissingArgument, key)
		}

		*dest[i] = value
	}

	return nil
}

func (a clientArgs) boolean(key string, fallback bool) bool {
	switch value := a.lookup(key).(type) {
	case bool:
		return value
	case string:
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}

	return fallback
}

func (a clientArgs) integer(key string, fallback int) int {
	switch value := a.lookup(key).(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return fallback
}
