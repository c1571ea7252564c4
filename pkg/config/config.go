package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is injected at build time.
var Version = "dev"

const (
	TransportGeneric = "generic"
	TransportGobot   = "gobot"
	TransportMCP2221 = "mcp2221"
	TransportSim     = "sim"
)

const (
	PolicyFail  = "fail"
	PolicySkip  = "skip"
	PolicyRetry = "retry"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Transport string       `yaml:"transport"`
	Bus       int          `yaml:"bus"`
	SpeedHz   int64        `yaml:"speed_hz"`
	BMP180    BMP180Config `yaml:"bmp180"`
	Si7021    Si7021Config `yaml:"si7021"`
	CSV       CSVConfig    `yaml:"csv"`
	Sim       SimConfig    `yaml:"sim"`
}

type BMP180Config struct {
	Oversampling    uint8         `yaml:"oversampling"`
	ConversionDelay time.Duration `yaml:"conversion_delay"`
}

type Si7021Config struct {
	ResetDelay       time.Duration `yaml:"reset_delay"`
	ValidateChecksum bool          `yaml:"validate_checksum"`
}

type CSVConfig struct {
	Interval   time.Duration `yaml:"interval"`
	OnFailure  string        `yaml:"on_failure"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// empty means standard output
	Output string `yaml:"output"`
}

// SimConfig holds the constant readings of the simulated sensors.
type SimConfig struct {
	Temperature float64 `yaml:"temperature"`
	Humidity    float64 `yaml:"humidity"`
	Pressure    float64 `yaml:"pressure"`
}

func Default() Config {
	return Config{
		Transport: TransportGeneric,
		Bus:       1,
		BMP180: BMP180Config{
			ConversionDelay: 50 * time.Millisecond,
		},
		Si7021: Si7021Config{
			ResetDelay: 20 * time.Millisecond,
		},
		CSV: CSVConfig{
			Interval:   5 * time.Minute,
			OnFailure:  PolicyFail,
			Retries:    3,
			RetryDelay: 10 * time.Second,
		},
		Sim: SimConfig{
			Temperature: 21.5,
			Humidity:    45,
			Pressure:    101325,
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportGeneric, TransportGobot, TransportMCP2221, TransportSim:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.Bus < 0 {
		return fmt.Errorf("%w: negative bus number %d", ErrInvalidConfig, c.Bus)
	}
	if c.BMP180.Oversampling > 3 {
		return fmt.Errorf("%w: bmp180 oversampling %d out of range 0-3", ErrInvalidConfig, c.BMP180.Oversampling)
	}
	switch c.CSV.OnFailure {
	case PolicyFail, PolicySkip, PolicyRetry:
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, c.CSV.OnFailure)
	}
	if c.CSV.Interval <= 0 {
		return fmt.Errorf("%w: csv interval must be positive", ErrInvalidConfig)
	}
	if c.CSV.Retries < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidConfig)
	}
	return nil
}
