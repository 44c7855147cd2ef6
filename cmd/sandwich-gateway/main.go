package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/mqclients"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/server"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logDirectoryPermissions = 0o755

func main() {
	rootCmd := &cobra.Command{
		Use:           "sandwich-gateway",
		Short:         "Connects bots to the discord gateway and produces their events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("sandwich-gateway " + sandwich.Version)
		},
	}
}

func initCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}

			example := sandwich.DefaultManagerConfiguration()
			example.Identifier = "welcomer"
			example.Token = "${DISCORD_TOKEN}"
			example.AutoSharded = true

			configuration := &sandwich.Configuration{
				Logging: sandwich.LoggingConfiguration{
					Level:                 "info",
					ConsoleLoggingEnabled: true,
				},
				HTTP: sandwich.HTTPConfiguration{
					Enabled: true,
					Host:    sandwich.DefaultStatusServerAddress,
				},
				Managers: []sandwich.ManagerConfiguration{example},
			}

			if err := sandwich.NewConfigProviderFromPath(configPath).SaveConfig(cmd.Context(), configuration); err != nil {
				return err
			}

			cmd.Printf("Wrote %s\n", configPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sandwich.yaml", "path of the configuration file to write")

	return cmd
}

func runCmd() *cobra.Command {
	var (
		configPath string
		envFiles   []string
		level      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect every configured manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			configuration, err := sandwich.NewConfigProviderFromPath(configPath, envFiles...).GetConfig(ctx)
			if err != nil {
				return err
			}

			if level != "" {
				configuration.Logging.Level = level
			}

			logger, err := newLogger(configuration.Logging)
			if err != nil {
				return err
			}

			return run(ctx, logger, configuration)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sandwich.yaml", "path of the configuration file")
	cmd.Flags().StringSliceVar(&envFiles, "env", []string{".env"}, "env files loaded before the configuration")
	cmd.Flags().StringVar(&level, "level", "", "overrides the configured log level")

	return cmd
}

func run(ctx context.Context, logger zerolog.Logger, configuration *sandwich.Configuration) error {
	if len(configuration.Managers) == 0 {
		return errors.New("no managers are configured")
	}

	var producer mqclients.MQClient

	if configuration.Producer.Type != "" {
		client, err := mqclients.NewMQClient(configuration.Producer.Type)
		if err != nil {
			return err
		}

		clientName := configuration.Producer.ClientName
		if clientName == "" {
			clientName = "sandwich-gateway"
		}

		if err := client.Connect(ctx, clientName, configuration.Producer.Configuration); err != nil {
			return fmt.Errorf("failed to connect producer: %w", err)
		}

		defer client.Close()

		producer = client
	}

	dialer := transport.NewWebsocketDialer(logger)
	identifyProvider := sandwich.NewIdentifyProvider(configuration.Identify)

	managers := make([]*sandwich.Manager, 0, len(configuration.Managers))

	for _, managerConfiguration := range configuration.Managers {
		httpClient := http.DefaultClient

		if managerConfiguration.ProxyURL != "" {
			proxyURL, err := url.Parse(managerConfiguration.ProxyURL)
			if err != nil {
				return fmt.Errorf("manager %s: invalid proxy url: %w", managerConfiguration.Identifier, err)
			}

			httpClient = sandwich.NewProxyClient(*http.DefaultClient, *proxyURL)
		}

		var sink sandwich.EventSink = sandwich.NewLoggerEventSink(logger.With().Str("manager", managerConfiguration.Identifier).Logger())
		if producer != nil {
			sink = mqclients.NewProducerSink(sink, producer, managerConfiguration.ProducerIdentifier, logger).
				WithBlacklist(managerConfiguration.ProduceBlacklist)
		}

		sink = sandwich.NewBlacklistEventSink(sink, managerConfiguration.EventBlacklist)

		manager := sandwich.NewManager(
			logger,
			managerConfiguration,
			sink,
			dialer,
			sandwich.NewRESTGatewayInfoProvider(httpClient, managerConfiguration.Token),
		).WithIdentifyProvider(identifyProvider)

		managers = append(managers, manager)
	}

	eg, ctx := errgroup.WithContext(ctx)

	if configuration.HTTP.Enabled {
		host := configuration.HTTP.Host
		if host == "" {
			host = sandwich.DefaultStatusServerAddress
		}

		statusServer := server.NewServer(logger, managers)

		eg.Go(func() error {
			return statusServer.ListenAndServe(ctx, host)
		})
	}

	for _, manager := range managers {
		eg.Go(func() error {
			if err := manager.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				manager.Logger.Error().Err(err).Msg("Manager failed to connect")
			}

			<-ctx.Done()

			manager.Destroy()
			<-manager.Done()

			return nil
		})
	}

	logger.Info().Int("managers", len(managers)).Msg("Sandwich gateway started")

	err := eg.Wait()

	logger.Info().Msg("Sandwich gateway stopped")

	return err
}

func newLogger(configuration sandwich.LoggingConfiguration) (zerolog.Logger, error) {
	level := zerolog.InfoLevel

	if configuration.Level != "" {
		parsed, err := zerolog.ParseLevel(configuration.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
		}

		level = parsed
	}

	var writers []io.Writer

	if configuration.ConsoleLoggingEnabled || !configuration.FileLoggingEnabled {
		if configuration.EncodeAsJSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
		}
	}

	if configuration.FileLoggingEnabled {
		if err := os.MkdirAll(configuration.Directory, logDirectoryPermissions); err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to create log directory: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(configuration.Directory, replaceIfEmpty(configuration.Filename, "sandwich.log")),
			MaxBackups: configuration.MaxBackups,
			MaxSize:    configuration.MaxSize,
			MaxAge:     configuration.MaxAge,
			Compress:   configuration.Compress,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().
		Logger(), nil
}

func replaceIfEmpty(v, s string) string {
	if v == "" {
		return s
	}

	return v
}
