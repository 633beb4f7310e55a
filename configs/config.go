package configs

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Dataset DatasetConfig
	Queue   QueueConfig
	App     AppConfig
	Serial  SerialConfig
	MQTT    MQTTConfig
}

type DatasetConfig struct {
	DataDir            string
	Name               string
	ExportRoot         string
	Sensors            []string
	NormalizeGyroscope bool
	DefaultLabel       string
	StartRecording     bool
}

type QueueConfig struct {
	Size               int
	DrainTimeout       time.Duration
	SizeReportInterval time.Duration
}

type AppConfig struct {
	HTTPAddr    string
	LogFilePath string
	LogLevel    string
}

// SerialConfig is disabled when Port is empty.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// MQTTConfig is disabled when Broker is empty.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      int
}

// LoadConfig reads the configuration from the environment, falling back to defaults.
func LoadConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			DataDir:            getEnv("DATA_DIR", "./data"),
			Name:               getEnv("DATASET_NAME", "acc-data,walking,jogging,sport.arff"),
			ExportRoot:         getEnv("EXPORT_ROOT", "./external"),
			Sensors:            getEnvAsList("SENSORS", []string{"accelerometer", "gyroscope"}),
			NormalizeGyroscope: getEnvAsBool("NORMALIZE_GYROSCOPE", true),
			DefaultLabel:       getEnv("DEFAULT_LABEL", "walking"),
			StartRecording:     getEnvAsBool("START_RECORDING", false),
		},
		Queue: QueueConfig{
			Size:               getEnvAsInt("QUEUE_SIZE", 64),
			DrainTimeout:       getEnvAsDuration("DRAIN_TIMEOUT", 2*time.Second),
			SizeReportInterval: getEnvAsDuration("SIZE_REPORT_INTERVAL", 5*time.Second),
		},
		App: AppConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			LogFilePath: getEnv("LOG_FILE_PATH", "collector.logs"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Serial: SerialConfig{
			Port:     getEnv("SERIAL_PORT", ""),
			BaudRate: getEnvAsInt("BAUDRATE", 460800),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "arff-collector"),
			Topic:    getEnv("MQTT_TOPIC", "motion/+/+"),
			QoS:      getEnvAsInt("MQTT_QOS", 1),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
