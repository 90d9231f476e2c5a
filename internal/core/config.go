package core

import (
	"time"
)

type Config struct {
	Discord  DiscordConfig
	Spotify  SpotifyConfig
	Resolver ResolverConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

type DiscordConfig struct {
	Token             string
	CommandPrefix     string
	SettingsPath      string
	RequestsPerMinute int
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

type ResolverConfig struct {
	SearchLimit int
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	SmartPlayMaxFailures int
	RecommendationLimit  int
	MinPopularity        int
	CatalogSearchLimit   int
	PlaylistExpandLimit  int
	RandomYearMin        int
	RandomYearMax        int
	DefaultTrackDuration time.Duration
	VoiceConnectTimeout  time.Duration
	NoticeTTL            time.Duration
	HistoryPurgeLimit    int
	PlayedCapacity       int
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			CommandPrefix:     "!",
			SettingsPath:      "./settings.json",
			RequestsPerMinute: 10,
		},
		Resolver: ResolverConfig{
			SearchLimit: 5,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			SmartPlayMaxFailures: 5,
			RecommendationLimit:  20,
			MinPopularity:        30,
			CatalogSearchLimit:   20,
			PlaylistExpandLimit:  100,
			RandomYearMin:        2010,
			RandomYearMax:        2024,
			DefaultTrackDuration: 2 * time.Minute,
			VoiceConnectTimeout:  10 * time.Second,
			NoticeTTL:            8 * time.Second,
			HistoryPurgeLimit:    200,
			PlayedCapacity:       4096,
		},
	}
}
