// Package config provides configuration loading for go-wayfinder.
//
// Values come from three layers, later layers winning:
// compiled defaults, an optional YAML file, and environment variables
// (a .env file in the working directory is loaded first when present).
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the wayfinder device.
// Flag parsing is done in cmd/wayfinder/main.go; this struct is data only.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Power        PowerConfig        `yaml:"power"`
	Detection    DetectionConfig    `yaml:"detection"`
	Crowd        CrowdConfig        `yaml:"crowd"`
	Haptic       HapticConfig       `yaml:"haptic"`
	Commands     CommandsConfig     `yaml:"commands"`
	Speech       SpeechConfig       `yaml:"speech"`
	Navigation   NavigationConfig   `yaml:"navigation"`
	Store        StoreConfig        `yaml:"store"`
	Server       ServerConfig       `yaml:"server"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// PowerConfig tunes load sampling and the low-power hysteresis band.
type PowerConfig struct {
	Window          int                      `yaml:"window"`
	HighLoad        float64                  `yaml:"high_load"`
	LowLoad         float64                  `yaml:"low_load"`
	SampleInterval  time.Duration            `yaml:"sample_interval"`
	ReclaimInterval time.Duration            `yaml:"reclaim_interval"`
	Intervals       map[string]time.Duration `yaml:"intervals"`
}

// DetectionConfig tunes announcement filtering and the detection feed.
type DetectionConfig struct {
	BaseThreshold   float64            `yaml:"base_threshold"`
	ClassThresholds map[string]float64 `yaml:"class_thresholds"`
	Cooldown        time.Duration      `yaml:"cooldown"`
	HistorySize     int                `yaml:"history_size"`
	MinHistory      int                `yaml:"min_history"`
	LowPowerScale   float64            `yaml:"low_power_scale"`
	CleanupInterval time.Duration      `yaml:"cleanup_interval"`
	UseCategories   bool               `yaml:"use_categories"`
	MaxNamesPerSide int                `yaml:"max_names_per_side"`

	Feed FeedConfig `yaml:"feed"`
}

// FeedConfig selects where detections come from.
type FeedConfig struct {
	// Mode is one of "websocket" (dial a detector service), "ingress"
	// (detector pushes to /ws/detections), "camera" (local gocv model) or "none".
	Mode           string        `yaml:"mode"`
	URL            string        `yaml:"url"`
	CameraURL      string        `yaml:"camera_url"`
	ModelPath      string        `yaml:"model_path"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Annotate       bool          `yaml:"annotate"`
}

// CrowdConfig tunes inactivity prompts and crowd alerts.
type CrowdConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	PersonLimit       int           `yaml:"person_limit"`
	CrowdCooldown     time.Duration `yaml:"crowd_cooldown"`
}

// HapticConfig tunes the distance sensors and the vibration actuator.
type HapticConfig struct {
	Sensors       []string      `yaml:"sensors"`
	SensorCount   int           `yaml:"sensor_count"`
	ThresholdCM   float64       `yaml:"threshold_cm"`
	SensorMaxAge  time.Duration `yaml:"sensor_max_age"`
	Transport     string        `yaml:"transport"` // "http" or "mqtt"
	ActuatorURL   string        `yaml:"actuator_url"`
	ActuatorTopic string        `yaml:"actuator_topic"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CommandsConfig tunes command transports and debouncing.
type CommandsConfig struct {
	Cooldown            time.Duration `yaml:"cooldown"`
	PollURL             string        `yaml:"poll_url"`
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	UDPAddr             string        `yaml:"udp_addr"`
	PredefinedContact   string        `yaml:"predefined_contact_file"`
	DefaultContact      string        `yaml:"default_contact"`
	HandlerDrainTimeout time.Duration `yaml:"handler_drain_timeout"`
}

// SpeechConfig tunes the speech queue and the TTS backend.
type SpeechConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	Timeout     time.Duration `yaml:"timeout"`
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Provider is "local", "openai" or "chain" (openai falling back to local).
	Provider    string   `yaml:"provider"`
	Command     []string `yaml:"command"`
	Player      []string `yaml:"player"`
	OpenAIKey   string   `yaml:"-"`
	OpenAIVoice string   `yaml:"openai_voice"`
	OpenAIModel string   `yaml:"openai_model"`
}

// NavigationConfig points at routing and geocoding services.
type NavigationConfig struct {
	RoutingURL     string        `yaml:"routing_url"`
	Vehicle        string        `yaml:"vehicle"`
	GeocodeURL     string        `yaml:"geocode_url"`
	GeocodeKey     string        `yaml:"-"`
	CountryCode    string        `yaml:"country_code"`
	GazetteerPath  string        `yaml:"gazetteer_path"`
	FuzzyCutoff    float64       `yaml:"fuzzy_cutoff"`
	ArrivalRadiusM float64       `yaml:"arrival_radius_m"`
	StepInterval   time.Duration `yaml:"step_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	GPSURL         string        `yaml:"gps_url"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "json" or "sqlite"
	LocationsPath string `yaml:"locations_path"`
	ContactPath   string `yaml:"contact_path"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// ServerConfig configures the local HTTP ingress.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig configures telemetry publishing.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"-"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// AMQPConfig configures the emergency alert channel.
type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"-"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// OrchestratorConfig tunes task supervision.
type OrchestratorConfig struct {
	Stagger          time.Duration `yaml:"stagger"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	MaxRestarts      int           `yaml:"max_restarts"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
}

// Default returns the configuration the device ships with.
func Default() Config {
	return Config{
		LogLevel: "info",
		Power: PowerConfig{
			Window:          10,
			HighLoad:        80,
			LowLoad:         40,
			SampleInterval:  2 * time.Second,
			ReclaimInterval: 30 * time.Second,
		},
		Detection: DetectionConfig{
			BaseThreshold: 0.30,
			ClassThresholds: map[string]float64{
				"person":     0.20,
				"car":        0.25,
				"motorcycle": 0.25,
				"bicycle":    0.20,
			},
			Cooldown:        4 * time.Second,
			HistorySize:     30,
			MinHistory:      20,
			LowPowerScale:   1.3,
			CleanupInterval: 30 * time.Second,
			MaxNamesPerSide: 2,
			Feed: FeedConfig{
				Mode:           "ingress",
				ScoreThreshold: 0.35,
				ReconnectDelay: 3 * time.Second,
				ModelPath:      "models/yolov8n.onnx",
			},
		},
		Crowd: CrowdConfig{
			InactivityTimeout: 30 * time.Second,
			PersonLimit:       5,
			CrowdCooldown:     30 * time.Second,
		},
		Haptic: HapticConfig{
			Sensors:      []string{"front", "left", "right"},
			SensorCount:  2,
			ThresholdCM:  50,
			SensorMaxAge: 2 * time.Second,
			Transport:    "http",
			ActuatorURL:  "http://192.168.206.213/vibrate",
			Timeout:      1500 * time.Millisecond,
		},
		Commands: CommandsConfig{
			Cooldown:            3 * time.Second,
			PollTimeout:         2 * time.Second,
			PredefinedContact:   "predefined_emergency.txt",
			DefaultContact:      "911",
			HandlerDrainTimeout: 2 * time.Second,
		},
		Speech: SpeechConfig{
			QueueSize:   16,
			Timeout:     30 * time.Second,
			StopTimeout: 3 * time.Second,
			Provider:    "local",
			Command:     []string{"RHVoice-client", "-s", "angela", "-r", "0", "-v", "1"},
			Player:      []string{"aplay", "-q"},
			OpenAIVoice: "shimmer",
			OpenAIModel: "tts-1",
		},
		Navigation: NavigationConfig{
			RoutingURL:     "http://localhost:8989/route",
			Vehicle:        "foot",
			GeocodeURL:     "https://api.opencagedata.com/geocode/v1/json",
			CountryCode:    "ph",
			GazetteerPath:  "offline_locations.csv",
			FuzzyCutoff:    0.6,
			ArrivalRadiusM: 10,
			StepInterval:   3 * time.Second,
			Timeout:        3 * time.Second,
		},
		Store: StoreConfig{
			Backend:       "json",
			LocationsPath: "saved_locations.json",
			ContactPath:   "emergency_number.json",
			SQLitePath:    "wayfinder.db",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		MQTT: MQTTConfig{
			ClientID:    "wayfinder",
			TopicPrefix: "wayfinder",
		},
		AMQP: AMQPConfig{
			Exchange:   "wayfinder.alerts",
			RoutingKey: "emergency.sms",
		},
		Orchestrator: OrchestratorConfig{
			Stagger:          500 * time.Millisecond,
			LivenessInterval: 10 * time.Second,
			RestartDelay:     5 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional) and
// the environment. The result is validated.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case on the device.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.LoadEnvConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvConfig applies environment overrides.
// Secrets are only ever read from the environment.
func (c *Config) LoadEnvConfig() {
	if v := os.Getenv("WAYFINDER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WAYFINDER_ACTUATOR_URL"); v != "" {
		c.Haptic.ActuatorURL = v
	}
	if v := os.Getenv("WAYFINDER_BUTTONS_URL"); v != "" {
		c.Commands.PollURL = v
	}
	if v := os.Getenv("WAYFINDER_FEED_URL"); v != "" {
		c.Detection.Feed.URL = v
	}
	if v := os.Getenv("WAYFINDER_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("WAYFINDER_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("WAYFINDER_AMQP_URL"); v != "" {
		c.AMQP.URL = v
		c.AMQP.Enabled = true
	}
	c.Speech.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.Navigation.GeocodeKey = os.Getenv("OPENCAGE_API_KEY")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Detection.BaseThreshold < 0.1 || c.Detection.BaseThreshold > 0.5 {
		errs = append(errs, &ConfigError{Field: "detection.base_threshold", Message: "must be within [0.1, 0.5]"})
	}
	for _, class := range slices.Sorted(maps.Keys(c.Detection.ClassThresholds)) {
		if v := c.Detection.ClassThresholds[class]; v < 0.1 || v > 0.5 {
			errs = append(errs, &ConfigError{Field: "detection.class_thresholds", Message: fmt.Sprintf("%s: %.2f not within [0.1, 0.5]", class, v)})
		}
	}
	if c.Detection.Cooldown < 0 {
		errs = append(errs, &ConfigError{Field: "detection.cooldown", Message: "must not be negative"})
	}
	if c.Detection.HistorySize < c.Detection.MinHistory || c.Detection.MinHistory <= 0 {
		errs = append(errs, &ConfigError{Field: "detection.history_size", Message: "must be >= min_history > 0"})
	}
	if c.Power.Window <= 0 {
		errs = append(errs, &ConfigError{Field: "power.window", Message: "must be positive"})
	}
	if c.Power.LowLoad >= c.Power.HighLoad {
		errs = append(errs, &ConfigError{Field: "power.low_load", Message: "must be below power.high_load"})
	}
	if c.Haptic.SensorCount < 0 || c.Haptic.SensorCount > len(c.Haptic.Sensors) {
		errs = append(errs, &ConfigError{Field: "haptic.sensor_count", Message: "must not exceed the number of configured sensors"})
	}
	if c.Speech.QueueSize <= 0 {
		errs = append(errs, &ConfigError{Field: "speech.queue_size", Message: "must be positive"})
	}
	switch c.Speech.Provider {
	case "local":
	case "openai", "chain":
		if c.Speech.OpenAIKey == "" {
			errs = append(errs, &ConfigError{Field: "speech.provider", Message: "OPENAI_API_KEY environment variable is required for OpenAI TTS"})
		}
	default:
		errs = append(errs, &ConfigError{Field: "speech.provider", Message: fmt.Sprintf("unknown provider %q", c.Speech.Provider)})
	}
	switch c.Haptic.Transport {
	case "http":
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, &ConfigError{Field: "haptic.transport", Message: "mqtt transport requires mqtt.enabled"})
		}
	default:
		errs = append(errs, &ConfigError{Field: "haptic.transport", Message: fmt.Sprintf("unknown transport %q", c.Haptic.Transport)})
	}
	switch c.Store.Backend {
	case "json", "sqlite":
	default:
		errs = append(errs, &ConfigError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q", c.Store.Backend)})
	}
	switch c.Detection.Feed.Mode {
	case "none", "ingress", "camera":
	case "websocket":
		if c.Detection.Feed.URL == "" {
			errs = append(errs, &ConfigError{Field: "detection.feed.url", Message: "required for websocket feed"})
		}
	default:
		errs = append(errs, &ConfigError{Field: "detection.feed.mode", Message: fmt.Sprintf("unknown mode %q", c.Detection.Feed.Mode)})
	}

	return errors.Join(errs...)
}

// Interval returns the configured base interval for a task, or fallback.
func (c *PowerConfig) Interval(task string, fallback time.Duration) time.Duration {
	if d, ok := c.Intervals[task]; ok && d > 0 {
		return d
	}
	return fallback
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
