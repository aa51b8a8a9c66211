package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/musicsync/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	logFormat = configVar[string]{
		envKey:       "SERVER_LOG_FORMAT",
		flagKey:      "log-format",
		defaultValue: "json",
	}
	driftThreshold = configVar[float64]{
		envKey:       "SYNC_DRIFT_THRESHOLD",
		flagKey:      "drift-threshold",
		defaultValue: 0.3,
	}
	heartbeatInterval = configVar[time.Duration]{
		envKey:       "SYNC_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 3 * time.Second,
	}
	roomTTL = configVar[time.Duration]{
		envKey:       "ROOM_TTL",
		flagKey:      "room-ttl",
		defaultValue: 5 * time.Minute,
	}
	reapInterval = configVar[time.Duration]{
		envKey:       "ROOM_REAP_INTERVAL",
		flagKey:      "reap-interval",
		defaultValue: 30 * time.Second,
	}
	trackTTL = configVar[time.Duration]{
		envKey:       "TRACK_TTL",
		flagKey:      "track-ttl",
		defaultValue: 24 * time.Hour,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(logFormat.flagKey, logFormat.defaultValue, "Log format: json, text or zap")
	pflag.Float64(driftThreshold.flagKey, driftThreshold.defaultValue, "Seconds of drift a follower tolerates before seeking")
	pflag.Duration(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, "Interval between host heartbeats")
	pflag.Duration(roomTTL.flagKey, roomTTL.defaultValue, "How long an empty room is kept; 0 keeps rooms forever")
	pflag.Duration(reapInterval.flagKey, reapInterval.defaultValue, "Interval between empty room sweeps")
	pflag.Duration(trackTTL.flagKey, trackTTL.defaultValue, "Expiry of registered tracks")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(port)
	bind(host)
	bind(logLevel)
	bind(logFormat)
	bind(driftThreshold)
	bind(heartbeatInterval)
	bind(roomTTL)
	bind(reapInterval)
	bind(trackTTL)
	bind(redisPort)
	bind(redisHost)
	bind(redisPassword)

	return &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		LogFormat:         viper.GetString(logFormat.flagKey),
		DriftThreshold:    viper.GetFloat64(driftThreshold.flagKey),
		HeartbeatInterval: viper.GetDuration(heartbeatInterval.flagKey),
		RoomTTL:           viper.GetDuration(roomTTL.flagKey),
		ReapInterval:      viper.GetDuration(reapInterval.flagKey),
		TrackTTL:          viper.GetDuration(trackTTL.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
