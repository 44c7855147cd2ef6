package sandwich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	PermissionWrite = 0o600

	DefaultGatewayVersion = 10
	DefaultLargeThreshold = 100
	DefaultSendLimit      = 120
	DefaultSendWindow     = time.Minute

	DefaultHelloTimeout        = 20 * time.Second
	DefaultReadyTimeout        = 15 * time.Second
	DefaultSpawnDelay          = 5 * time.Second
	DefaultReconnectDelay      = 5 * time.Second
	DefaultMemberChunkTimeout  = 10 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultStatusServerAddress = "127.0.0.1:15000"
)

var ErrUnknownConfigurationFormat = errors.New("unknown configuration format")

// Duration is a time.Duration written as "5s" in configuration files.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", string(b), err)
	}

	*d = Duration(parsed)

	return nil
}

// Configuration represents the configuration file.
type Configuration struct {
	Logging  LoggingConfiguration  `json:"logging" yaml:"logging" toml:"logging"`
	HTTP     HTTPConfiguration     `json:"http" yaml:"http" toml:"http"`
	Producer ProducerConfiguration `json:"producer" yaml:"producer" toml:"producer"`
	Identify IdentifyConfiguration `json:"identify" yaml:"identify" toml:"identify"`

	Managers []ManagerConfiguration `json:"managers" yaml:"managers" toml:"managers"`
}

type LoggingConfiguration struct {
	Level string `json:"level" yaml:"level" toml:"level"`

	ConsoleLoggingEnabled bool `json:"console_logging" yaml:"console_logging" toml:"console_logging"`
	FileLoggingEnabled    bool `json:"file_logging" yaml:"file_logging" toml:"file_logging"`
	EncodeAsJSON          bool `json:"encode_as_json" yaml:"encode_as_json" toml:"encode_as_json"`

	Directory  string `json:"directory" yaml:"directory" toml:"directory"`
	Filename   string `json:"filename" yaml:"filename" toml:"filename"`
	MaxSize    int    `json:"max_size" yaml:"max_size" toml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age" toml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress" toml:"compress"`
}

type HTTPConfiguration struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host    string `json:"host" yaml:"host" toml:"host"`
}

type ProducerConfiguration struct {
	// Type is one of stan, jetstream, kafka or redis. Empty disables producing.
	Type          string         `json:"type" yaml:"type" toml:"type"`
	Configuration map[string]any `json:"configuration" yaml:"configuration" toml:"configuration"`
	ClientName    string         `json:"client_name" yaml:"client_name" toml:"client_name"`
}

type IdentifyConfiguration struct {
	// URL allows for variables:
	// {shard_id}, {shard_count}, {token}, {token_hash}, {max_concurrency}
	URL     string            `json:"url" yaml:"url" toml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers" toml:"headers"`

	// UseBuckets paces identifies locally by max_concurrency when no URL is set.
	UseBuckets bool `json:"use_buckets" yaml:"use_buckets" toml:"use_buckets"`
}

type ManagerConfiguration struct {
	// Identifier is used in status APIs and metrics to identify the manager.
	Identifier string `json:"identifier" yaml:"identifier" toml:"identifier"`
	// ProducerIdentifier is passed to consumers for routing.
	ProducerIdentifier string `json:"producer_identifier" yaml:"producer_identifier" toml:"producer_identifier"`

	Token string `json:"token" yaml:"token" toml:"token"`

	AutoSharded bool   `json:"auto_sharded" yaml:"auto_sharded" toml:"auto_sharded"`
	ShardCount  int32  `json:"shard_count" yaml:"shard_count" toml:"shard_count"`
	ShardIDs    string `json:"shard_ids" yaml:"shard_ids" toml:"shard_ids"`

	Intents         int32                 `json:"intents" yaml:"intents" toml:"intents"`
	LargeThreshold  int32                 `json:"large_threshold" yaml:"large_threshold" toml:"large_threshold"`
	Compress        bool                  `json:"compress" yaml:"compress" toml:"compress"`
	Version         int32                 `json:"version" yaml:"version" toml:"version"`
	FetchAllMembers bool                  `json:"fetch_all_members" yaml:"fetch_all_members" toml:"fetch_all_members"`
	Presence        *discord.UpdateStatus `json:"presence,omitempty" yaml:"presence" toml:"presence"`

	// GatewayURL overrides the url returned by /gateway/bot.
	GatewayURL string `json:"gateway_url" yaml:"gateway_url" toml:"gateway_url"`
	// ProxyURL routes REST requests through a proxy such as nirn.
	ProxyURL string `json:"proxy_url" yaml:"proxy_url" toml:"proxy_url"`

	HelloTimeout       Duration `json:"hello_timeout" yaml:"hello_timeout" toml:"hello_timeout"`
	ReadyTimeout       Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
	SpawnDelay         Duration `json:"spawn_delay" yaml:"spawn_delay" toml:"spawn_delay"`
	ReconnectDelay     Duration `json:"reconnect_delay" yaml:"reconnect_delay" toml:"reconnect_delay"`
	MemberChunkTimeout Duration `json:"member_chunk_timeout" yaml:"member_chunk_timeout" toml:"member_chunk_timeout"`

	SendLimit  int32    `json:"send_limit" yaml:"send_limit" toml:"send_limit"`
	SendWindow Duration `json:"send_window" yaml:"send_window" toml:"send_window"`

	// EventBlacklist lists dispatch types that are never handed to the sink.
	EventBlacklist []string `json:"event_blacklist,omitempty" yaml:"event_blacklist" toml:"event_blacklist"`
	// ProduceBlacklist lists dispatch types that are handled but not produced.
	ProduceBlacklist []string `json:"produce_blacklist,omitempty" yaml:"produce_blacklist" toml:"produce_blacklist"`
}

// DefaultManagerConfiguration returns a configuration with every timing set
// to the gateway's documented defaults.
func DefaultManagerConfiguration() ManagerConfiguration {
	return ManagerConfiguration{
		AutoSharded:        true,
		LargeThreshold:     DefaultLargeThreshold,
		Version:            DefaultGatewayVersion,
		HelloTimeout:       Duration(DefaultHelloTimeout),
		ReadyTimeout:       Duration(DefaultReadyTimeout),
		SpawnDelay:         Duration(DefaultSpawnDelay),
		ReconnectDelay:     Duration(DefaultReconnectDelay),
		MemberChunkTimeout: Duration(DefaultMemberChunkTimeout),
		SendLimit:          DefaultSendLimit,
		SendWindow:         Duration(DefaultSendWindow),
	}
}

// fillDefaults replaces zero values with defaults.
func (mc *ManagerConfiguration) fillDefaults() {
	defaults := DefaultManagerConfiguration()

	mc.ProducerIdentifier = replaceIfEmpty(mc.ProducerIdentifier, mc.Identifier)

	if mc.LargeThreshold == 0 {
		mc.LargeThreshold = defaults.LargeThreshold
	}

	if mc.Version == 0 {
		mc.Version = defaults.Version
	}

	for _, d := range []struct {
		field    *Duration
		fallback Duration
	}{
		{&mc.HelloTimeout, defaults.HelloTimeout},
		{&mc.ReadyTimeout, defaults.ReadyTimeout},
		{&mc.SpawnDelay, defaults.SpawnDelay},
		{&mc.ReconnectDelay, defaults.ReconnectDelay},
		{&mc.MemberChunkTimeout, defaults.MemberChunkTimeout},
		{&mc.SendWindow, defaults.SendWindow},
	} {
		if *d.field == 0 {
			*d.field = d.fallback
		}
	}

	if mc.SendLimit == 0 {
		mc.SendLimit = defaults.SendLimit
	}
}

// Validate reports configuration that can never connect.
func (mc *ManagerConfiguration) Validate() error {
	if mc.Identifier == "" {
		return ErrMissingIdentifier
	}

	if mc.Token == "" {
		return fmt.Errorf("manager %s: %w", mc.Identifier, ErrMissingToken)
	}

	if mc.SendLimit < 0 || mc.SendWindow < 0 {
		return fmt.Errorf("manager %s: %w", mc.Identifier, ErrInvalidSendLimit)
	}

	if !mc.AutoSharded && mc.ShardIDs != "" && mc.ShardCount > 0 {
		if len(returnRangeInt32(mc.ShardIDs, mc.ShardCount)) == 0 {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrInvalidShardRange)
		}
	}

	return nil
}

type ConfigProvider interface {
	GetConfig(ctx context.Context) (*Configuration, error)
	SaveConfig(ctx context.Context, config *Configuration) error
}

// ConfigProviderFromPath reads and writes a configuration file. The format
// follows the extension: .yaml/.yml, .toml or .json. Environment variables
// referenced as ${NAME} are expanded after loading any .env file.
type ConfigProviderFromPath struct {
	path     string
	envFiles []string
}

func NewConfigProviderFromPath(path string, envFiles ...string) ConfigProviderFromPath {
	return ConfigProviderFromPath{path: path, envFiles: envFiles}
}

func (c ConfigProviderFromPath) GetConfig(_ context.Context) (*Configuration, error) {
	if len(c.envFiles) > 0 {
		// Missing .env files are not an error, the environment may already be set.
		_ = godotenv.Load(c.envFiles...)
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var config Configuration

	if err := unmarshalConfiguration(c.path, data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	for i := range config.Managers {
		config.Managers[i].fillDefaults()

		if err := config.Managers[i].Validate(); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

func (c ConfigProviderFromPath) SaveConfig(_ context.Context, config *Configuration) error {
	data, err := marshalConfiguration(c.path, config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(c.path, data, PermissionWrite)
}

func unmarshalConfiguration(path string, data []byte, config *Configuration) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".toml":
		return toml.Unmarshal(data, config)
	case ".json":
		return sandwichjson.Unmarshal(data, config)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownConfigurationFormat, path)
	}
}

func marshalConfiguration(path string, config *Configuration) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(config)
	case ".toml":
		return toml.Marshal(config)
	case ".json":
		return sandwichjson.Marshal(config)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfigurationFormat, path)
	}
}
