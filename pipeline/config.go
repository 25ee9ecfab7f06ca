package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kwv/robustfit/geometry"
	"github.com/kwv/robustfit/robust"
)

// DefaultConfigPath is where the CLI looks for a configuration file.
const DefaultConfigPath = "robustfit.yaml"

// DefaultPublishPrefix is the MQTT topic prefix used when none is configured.
const DefaultPublishPrefix = "robustfit"

// Config is the unified file configuration.
type Config struct {
	Estimation  EstimationConfig            `yaml:"estimation"`
	Suggestions *geometry.CameraSuggestions `yaml:"suggestions,omitempty"`
	MQTT        MQTTConfig                  `yaml:"mqtt"`
	Render      RenderConfig                `yaml:"render"`
	History     int                         `yaml:"history"` // runs kept by the tracker
}

// EstimationConfig selects the variant and holds the engine parameters.
type EstimationConfig struct {
	Method robust.Method `yaml:"method"`
	Robust robust.Config `yaml:",inline"`
}

// MQTTConfig holds MQTT broker connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty"`
	QoS           byte   `yaml:"qos,omitempty"`
	Retain        bool   `yaml:"retain,omitempty"`
}

// RenderConfig controls the raster and vector plots.
type RenderConfig struct {
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	Padding float64 `yaml:"padding"`
	DPI     float64 `yaml:"dpi"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Estimation: EstimationConfig{
			Method: robust.DefaultMethod,
			Robust: robust.DefaultConfig(),
		},
		MQTT: MQTTConfig{
			PublishPrefix: DefaultPublishPrefix,
		},
		Render: RenderConfig{
			Width:   800,
			Height:  400,
			Padding: 20,
			DPI:     96,
		},
		History: 50,
	}
}

// LoadConfig loads the unified configuration from a YAML file. Fields missing
// from the file keep their defaults; MQTT settings may be overridden from the
// environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when they are set.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.MQTT.Broker, "MQTT_BROKER")
	override(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&c.MQTT.Username, "MQTT_USERNAME")
	override(&c.MQTT.Password, "MQTT_PASSWORD")
	override(&c.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")
}

// Validate checks the estimation parameters, the suggestions and the render
// and MQTT sections.
func (c *Config) Validate() error {
	if err := c.Estimation.Robust.Validate(); err != nil {
		return fmt.Errorf("estimation: %w", err)
	}
	if _, err := c.Estimation.Method.MarshalText(); err != nil {
		return fmt.Errorf("estimation.method: %w", err)
	}
	if c.Suggestions != nil {
		if err := c.Suggestions.Validate(); err != nil {
			return fmt.Errorf("suggestions: %w", err)
		}
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render: width and height must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.History < 1 {
		return fmt.Errorf("history must be at least 1, got %d", c.History)
	}
	return nil
}
