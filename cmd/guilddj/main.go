// Package main provides the guilddj CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"guilddj/internal/catalog"
	"guilddj/internal/core"
	"guilddj/internal/discord"
	"guilddj/internal/httpserver"
	"guilddj/internal/resolver"
	"guilddj/internal/settings"
	"guilddj/internal/store"
)

const playedFalsePositiveRate = 0.001

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "guilddj",
	Short: "guilddj - per-guild Discord music playback",
	Long: `guilddj is a Discord bot that queues song requests per guild, streams the
resolved audio into voice channels and fills idle time with Smart Play picks
seeded from what the guild already asked for.`,
	RunE: runGuildDJ,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("discord-token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("command-prefix", "!", "prefix for text commands")
	rootCmd.PersistentFlags().String("settings-path", "./settings.json", "path of the guild settings file")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID (optional, enables catalog features)")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().Int("requests-per-minute", 10, "song request budget per user per minute")
	rootCmd.PersistentFlags().Int("resolver-search-limit", 5, "candidates fetched per track search")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("GUILDDJ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Discord.Token = viper.GetString("discord-token")
	if prefix := viper.GetString("command-prefix"); prefix != "" {
		cfg.Discord.CommandPrefix = prefix
	}
	if path := viper.GetString("settings-path"); path != "" {
		cfg.Discord.SettingsPath = path
	}
	if rpm := viper.GetInt("requests-per-minute"); rpm > 0 {
		cfg.Discord.RequestsPerMinute = rpm
	}

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")

	if limit := viper.GetInt("resolver-search-limit"); limit > 0 {
		cfg.Resolver.SearchLimit = limit
	}

	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if port := viper.GetInt("server-port"); port > 0 {
		cfg.Server.Port = port
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runGuildDJ(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Starting guilddj",
		zap.String("prefix", config.Discord.CommandPrefix),
		zap.Bool("catalog", config.Spotify.ClientID != ""))

	settingsStore, err := settings.NewStore(config.Discord.SettingsPath, logger.Named("settings"))
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	frontend, err := discord.NewFrontend(&config.Discord, settingsStore, logger.Named("discord"))
	if err != nil {
		return fmt.Errorf("failed to create Discord frontend: %w", err)
	}

	// catalog is optional: without credentials Smart Play falls back to
	// blind resolver queries and share links pass through untouched
	var catalogClient core.Catalog
	var linkExpander core.LinkExpander
	if config.Spotify.ClientID != "" {
		client, err := catalog.NewClient(ctx, &config.Spotify, logger.Named("catalog"))
		if err != nil {
			return fmt.Errorf("failed to authenticate Spotify catalog: %w", err)
		}
		catalogClient = client
		linkExpander = client
	}

	metrics := httpserver.NewMetrics()
	httpServer := httpserver.NewServer(&config.Server, metrics, logger.Named("http"))

	trackResolver := resolver.NewYouTube(config.Resolver.SearchLimit, logger.Named("resolver"))
	picker := core.NewSmartPicker(catalogClient, &config.App, logger.Named("picker"))
	voiceDialer := discord.NewDialer(frontend.Session(), logger.Named("voice"))

	orchestrator := core.NewOrchestrator(
		config,
		trackResolver,
		catalogClient,
		linkExpander,
		voiceDialer,
		frontend,
		settingsStore,
		picker,
		metrics,
		func() core.PlayedStore {
			return store.NewPlayedStore(config.App.PlayedCapacity, playedFalsePositiveRate)
		},
		logger.Named("orchestrator"),
	)
	frontend.SetOrchestrator(orchestrator)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return frontend.Start(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return orchestrator.Stop(shutdownCtx)
	})

	logger.Info("guilddj started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("guilddj stopped with error", zap.Error(err))
		return err
	}

	logger.Info("guilddj stopped gracefully")
	return nil
}

func validateConfig() error {
	if config.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}

	if config.Spotify.ClientID != "" && config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required when a client ID is set")
	}

	return nil
}
