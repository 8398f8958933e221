package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// Web Server
	WebServerPort    int
	WebStaticDir     string
	LivePushInterval int // milliseconds

	// GPS devices
	MaxDevices        int
	GPSDialTimeout    int // milliseconds
	GPSReadTimeout    int // milliseconds
	GPSMaxLineBytes   int
	GPSSerialBaudRate int

	// Headless producer device
	GPSDeviceID string
	GPSHost     string
	GPSPort     int

	// Trace storage
	TraceStore       string // "dir", "sqlite" or "s3"
	TraceDir         string
	TraceSQLitePath  string
	TraceS3Bucket    string
	TraceS3Region    string
	TraceS3Endpoint  string
	TraceS3PathStyle bool
	TraceS3Prefix    string
	TraceTimezone    string

	// MQTT
	MQTTBroker           string
	MQTTClientIDReceiver string
	MQTTClientIDConsole  string
	MQTTClientIDProducer string

	// Topics
	TopicGPSPrefix string

	// Simulated receiver (cmd/mock_gps)
	MockGPSListen    string
	MockGPSLatitude  float64
	MockGPSLongitude float64

	// Observability
	LogLevel       string
	MetricsEnabled bool
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when a key is not set.
func Default() *Config {
	return &Config{
		WebServerPort:        8080,
		WebStaticDir:         "web",
		LivePushInterval:     1000,
		MaxDevices:           2,
		GPSDialTimeout:       2000,
		GPSReadTimeout:       1000,
		GPSMaxLineBytes:      4096,
		GPSSerialBaudRate:    9600,
		GPSDeviceID:          "gps1",
		TraceStore:           "dir",
		TraceDir:             "uploads",
		TraceSQLitePath:      "traces.db",
		TraceS3Region:        "us-east-1",
		TraceS3Prefix:        "traces/",
		TraceTimezone:        "Europe/Paris",
		MQTTClientIDReceiver: "gps-receiver",
		MQTTClientIDConsole:  "gps-console-subscriber",
		MQTTClientIDProducer: "gps-producer",
		TopicGPSPrefix:       "gps",
		MockGPSListen:        ":10110",
		MockGPSLatitude:      48.8566,
		MockGPSLongitude:     2.3522,
		LogLevel:             "info",
		MetricsEnabled:       true,
	}
}

// Load reads a KEY=VALUE configuration file on top of Default, then applies
// any known key present in the process environment. An empty path skips the
// file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		values, err := godotenv.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
				return nil, fmt.Errorf("config %s: %w", configPath, err)
			}
		}
	}

	for _, key := range knownKeys {
		if v, ok := os.LookupEnv(key); ok {
			if err := cfg.setValue(key, strings.TrimSpace(v)); err != nil {
				return nil, fmt.Errorf("environment: %w", err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var knownKeys = []string{
	"WEB_SERVER_PORT", "WEB_STATIC_DIR", "LIVE_PUSH_INTERVAL",
	"MAX_DEVICES", "GPS_DIAL_TIMEOUT", "GPS_READ_TIMEOUT", "GPS_MAX_LINE_BYTES", "GPS_SERIAL_BAUD_RATE",
	"GPS_DEVICE_ID", "GPS_HOST", "GPS_PORT",
	"TRACE_STORE", "TRACE_DIR", "TRACE_SQLITE_PATH",
	"TRACE_S3_BUCKET", "TRACE_S3_REGION", "TRACE_S3_ENDPOINT", "TRACE_S3_PATH_STYLE", "TRACE_S3_PREFIX",
	"TRACE_TIMEZONE",
	"MQTT_BROKER", "MQTT_CLIENT_ID_RECEIVER", "MQTT_CLIENT_ID_CONSOLE", "MQTT_CLIENT_ID_PRODUCER",
	"TOPIC_GPS_PREFIX",
	"MOCK_GPS_LISTEN", "MOCK_GPS_LATITUDE", "MOCK_GPS_LONGITUDE",
	"LOG_LEVEL", "METRICS_ENABLED",
}

func positiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = positiveInt(key, value)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value
	case "LIVE_PUSH_INTERVAL":
		c.LivePushInterval, err = positiveInt(key, value)

	// GPS devices
	case "MAX_DEVICES":
		c.MaxDevices, err = positiveInt(key, value)
	case "GPS_DIAL_TIMEOUT":
		c.GPSDialTimeout, err = positiveInt(key, value)
	case "GPS_READ_TIMEOUT":
		c.GPSReadTimeout, err = positiveInt(key, value)
	case "GPS_MAX_LINE_BYTES":
		c.GPSMaxLineBytes, err = positiveInt(key, value)
	case "GPS_SERIAL_BAUD_RATE":
		c.GPSSerialBaudRate, err = positiveInt(key, value)
	case "GPS_DEVICE_ID":
		c.GPSDeviceID = value
	case "GPS_HOST":
		c.GPSHost = value
	case "GPS_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid GPS_PORT %q: %w", value, perr)
		}
		c.GPSPort = port

	// Trace storage
	case "TRACE_STORE":
		v := strings.ToLower(value)
		if v != "dir" && v != "sqlite" && v != "s3" {
			return fmt.Errorf("TRACE_STORE must be dir, sqlite or s3, got %q", value)
		}
		c.TraceStore = v
	case "TRACE_DIR":
		c.TraceDir = value
	case "TRACE_SQLITE_PATH":
		c.TraceSQLitePath = value
	case "TRACE_S3_BUCKET":
		c.TraceS3Bucket = value
	case "TRACE_S3_REGION":
		c.TraceS3Region = value
	case "TRACE_S3_ENDPOINT":
		c.TraceS3Endpoint = value
	case "TRACE_S3_PATH_STYLE":
		c.TraceS3PathStyle, err = strconv.ParseBool(value)
	case "TRACE_S3_PREFIX":
		c.TraceS3Prefix = value
	case "TRACE_TIMEZONE":
		c.TraceTimezone = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_RECEIVER":
		c.MQTTClientIDReceiver = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value

	// Topics
	case "TOPIC_GPS_PREFIX":
		c.TopicGPSPrefix = strings.TrimSuffix(value, "/")

	// Simulated receiver
	case "MOCK_GPS_LISTEN":
		c.MockGPSListen = value
	case "MOCK_GPS_LATITUDE":
		c.MockGPSLatitude, err = strconv.ParseFloat(value, 64)
	case "MOCK_GPS_LONGITUDE":
		c.MockGPSLongitude, err = strconv.ParseFloat(value, 64)

	// Observability
	case "LOG_LEVEL":
		c.LogLevel = value
	case "METRICS_ENABLED":
		c.MetricsEnabled, err = strconv.ParseBool(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	if err != nil && !strings.Contains(err.Error(), key) {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MaxDevices > 2 {
		return fmt.Errorf("MAX_DEVICES must be 1 or 2, got %d", c.MaxDevices)
	}
	switch c.TraceStore {
	case "dir":
		if c.TraceDir == "" {
			return fmt.Errorf("TRACE_DIR is required when TRACE_STORE=dir")
		}
	case "sqlite":
		if c.TraceSQLitePath == "" {
			return fmt.Errorf("TRACE_SQLITE_PATH is required when TRACE_STORE=sqlite")
		}
	case "s3":
		if c.TraceS3Bucket == "" {
			return fmt.Errorf("TRACE_S3_BUCKET is required when TRACE_STORE=s3")
		}
	}
	if c.TopicGPSPrefix == "" {
		return fmt.Errorf("TOPIC_GPS_PREFIX is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// DefaultFile is read by the binaries when GPS_CONFIG is unset.
const DefaultFile = "gps_config.txt"

// ResolvePath returns GPS_CONFIG if set, DefaultFile if it exists in the
// working directory, or "" to run on defaults plus environment.
func ResolvePath() string {
	if p := os.Getenv("GPS_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}
