package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "matchcore.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. MATCHCORE_RELAY_SECRET.
const EnvPrefix = "MATCHCORE"

// MatchConfig holds the timings and battlefield settings of a match.
type MatchConfig struct {
	Duration          time.Duration `json:"duration" mapstructure:"duration"`
	TimerSyncInterval time.Duration `json:"timerSyncInterval" mapstructure:"timerSyncInterval"`
	SnapshotInterval  time.Duration `json:"snapshotInterval" mapstructure:"snapshotInterval"`
	CoinInterval      time.Duration `json:"coinInterval" mapstructure:"coinInterval"`
	PowerUpInterval   time.Duration `json:"powerUpInterval" mapstructure:"powerUpInterval"`
	RespawnDelay      time.Duration `json:"respawnDelay" mapstructure:"respawnDelay"`
	SoloGrace         time.Duration `json:"soloGrace" mapstructure:"soloGrace"`
	// EnemyInterval of zero disables solo enemies, which turns on
	// EndOnLastStanding.
	EnemyInterval     time.Duration `json:"enemyInterval" mapstructure:"enemyInterval"`
	WinnerFallback    time.Duration `json:"winnerFallback" mapstructure:"winnerFallback"`
	TickInterval      time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	MaxHealth         float64       `json:"maxHealth" mapstructure:"maxHealth"`
	JitterRadius      float64       `json:"jitterRadius" mapstructure:"jitterRadius"`
	EndOnLastStanding bool          `json:"endOnLastStanding" mapstructure:"endOnLastStanding"`
	SpawnPoints       []string      `json:"spawnPoints" mapstructure:"spawnPoints"`
}

// MemoryConfig holds in-memory/JSON sink settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite sink settings. An empty Path keeps the database
// in memory and dumps it to DumpPath every DumpInterval.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN renders the connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// InfluxConfig holds InfluxDB sink settings.
type InfluxConfig struct {
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// URL renders the server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// APIConfig points at the web frontend.
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// WebSocketConfig points at the streaming endpoint of the web frontend.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the score sink.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" mapstructure:"postgres"`
	Influx    InfluxConfig    `json:"influx" mapstructure:"influx"`
	API       APIConfig       `json:"api" mapstructure:"api"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// RelayConfig holds the room relay server settings.
type RelayConfig struct {
	Addr           string        `json:"addr" mapstructure:"addr"`
	Secret         string        `json:"secret" mapstructure:"secret"`
	TokenTTL       time.Duration `json:"tokenTtl" mapstructure:"tokenTtl"`
	AllowedOrigins []string      `json:"allowedOrigins" mapstructure:"allowedOrigins"`
	MaxPlayers     int           `json:"maxPlayers" mapstructure:"maxPlayers"`
}

// Load reads configuration from the JSON file in configDir, a .env file in
// the same directory and MATCHCORE_* environment variables, on top of the
// defaults. A missing config file is not an error.
func Load(configDir string) error {
	setDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("match.duration", 180*time.Second)
	viper.SetDefault("match.timerSyncInterval", 5*time.Second)
	viper.SetDefault("match.snapshotInterval", 5*time.Second)
	viper.SetDefault("match.coinInterval", 20*time.Second)
	viper.SetDefault("match.powerUpInterval", 15*time.Second)
	viper.SetDefault("match.respawnDelay", 5*time.Second)
	viper.SetDefault("match.soloGrace", 5*time.Second)
	viper.SetDefault("match.enemyInterval", 8*time.Second)
	viper.SetDefault("match.winnerFallback", 2*time.Second)
	viper.SetDefault("match.tickInterval", 100*time.Millisecond)
	viper.SetDefault("match.maxHealth", 100.0)
	viper.SetDefault("match.jitterRadius", 1.5)
	viper.SetDefault("match.endOnLastStanding", false)
	viper.SetDefault("match.spawnPoints", []string{"-8,-4", "8,-4", "-8,4", "8,4"})

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./results")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./results/matchcore.db")
	viper.SetDefault("storage.sqlite.dumpInterval", 3*time.Minute)
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "matchcore")
	viper.SetDefault("storage.influx.protocol", "http")
	viper.SetDefault("storage.influx.host", "localhost")
	viper.SetDefault("storage.influx.port", "8086")
	viper.SetDefault("storage.influx.token", "supersecrettoken")
	viper.SetDefault("storage.influx.org", "tankclash")
	viper.SetDefault("storage.influx.bucket", "matches")
	viper.SetDefault("storage.influx.backupDir", "./results")
	viper.SetDefault("storage.api.serverUrl", "http://localhost:5000")
	viper.SetDefault("storage.api.apiKey", "")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "matchcore")
	viper.SetDefault("otel.batchTimeout", 5*time.Second)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("relay.addr", ":7350")
	viper.SetDefault("relay.secret", "")
	viper.SetDefault("relay.tokenTtl", 12*time.Hour)
	viper.SetDefault("relay.allowedOrigins", []string{"*"})
	viper.SetDefault("relay.maxPlayers", 4)
}

// GetMatchConfig returns the match settings.
func GetMatchConfig() MatchConfig {
	return MatchConfig{
		Duration:          viper.GetDuration("match.duration"),
		TimerSyncInterval: viper.GetDuration("match.timerSyncInterval"),
		SnapshotInterval:  viper.GetDuration("match.snapshotInterval"),
		CoinInterval:      viper.GetDuration("match.coinInterval"),
		PowerUpInterval:   viper.GetDuration("match.powerUpInterval"),
		RespawnDelay:      viper.GetDuration("match.respawnDelay"),
		SoloGrace:         viper.GetDuration("match.soloGrace"),
		EnemyInterval:     viper.GetDuration("match.enemyInterval"),
		WinnerFallback:    viper.GetDuration("match.winnerFallback"),
		TickInterval:      viper.GetDuration("match.tickInterval"),
		MaxHealth:         viper.GetFloat64("match.maxHealth"),
		JitterRadius:      viper.GetFloat64("match.jitterRadius"),
		EndOnLastStanding: viper.GetBool("match.endOnLastStanding"),
		SpawnPoints:       viper.GetStringSlice("match.spawnPoints"),
	}
}

// GetStorageConfig returns the score sink settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Influx: InfluxConfig{
			Protocol:  viper.GetString("storage.influx.protocol"),
			Host:      viper.GetString("storage.influx.host"),
			Port:      viper.GetString("storage.influx.port"),
			Token:     viper.GetString("storage.influx.token"),
			Org:       viper.GetString("storage.influx.org"),
			Bucket:    viper.GetString("storage.influx.bucket"),
			BackupDir: viper.GetString("storage.influx.backupDir"),
		},
		API: APIConfig{
			ServerURL: viper.GetString("storage.api.serverUrl"),
			APIKey:    viper.GetString("storage.api.apiKey"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetRelayConfig returns the relay server settings.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Addr:           viper.GetString("relay.addr"),
		Secret:         viper.GetString("relay.secret"),
		TokenTTL:       viper.GetDuration("relay.tokenTtl"),
		AllowedOrigins: viper.GetStringSlice("relay.allowedOrigins"),
		MaxPlayers:     viper.GetInt("relay.maxPlayers"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
