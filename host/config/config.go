package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDevice  = "/dev/ttyACM0"
	DefaultBaud    = 250000
	DefaultPWMHz   = 1000
	DefaultTimeout = 1000 // ms

	// ESP32-CAM cam-hi.jpg resolution
	DefaultFrameWidth  = 800
	DefaultFrameHeight = 600

	// maxOID is the largest oid the firmware's %c encoding carries
	maxOID = 255
)

// Config is the host configuration file
type Config struct {
	Serial SerialConfig  `yaml:"serial"`
	Log    LogConfig     `yaml:"log"`
	Motors []MotorConfig `yaml:"motors"`
	Aim    AimConfig     `yaml:"aim"`
}

// SerialConfig selects the firmware's serial port
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// ResponseTimeoutMs bounds how long a query waits for the firmware
	ResponseTimeoutMs int `yaml:"response_timeout_ms"`
}

// LogConfig sets the slog level: debug, info, warn or error
type LogConfig struct {
	Level string `yaml:"level"`
}

// MotorConfig is one MX1508 channel
type MotorConfig struct {
	Name string `yaml:"name"`
	OID  *int   `yaml:"oid"` // nil: assigned in file order

	// Pins are names from the firmware's pin enumeration ("gpio5") or numbers
	IN1 string `yaml:"in1_pin"`
	IN2 string `yaml:"in2_pin"`

	PWMHz         uint32 `yaml:"pwm_hz"`
	MaxDurationMs uint32 `yaml:"max_duration_ms"` // 0: no deadline
}

// AimConfig turns target alerts from the detector into pan, tilt and
// trigger motion. An empty Listen disables the alert server.
type AimConfig struct {
	Listen string `yaml:"listen"`

	FrameWidth  int `yaml:"frame_width"`
	FrameHeight int `yaml:"frame_height"`

	PanMotor     string `yaml:"pan_motor"`
	TiltMotor    string `yaml:"tilt_motor"`    // optional
	TriggerMotor string `yaml:"trigger_motor"` // optional

	DeadbandPx int    `yaml:"deadband_px"`
	MinSpeed   int    `yaml:"min_speed"`
	MaxSpeed   int    `yaml:"max_speed"`
	FireMs     uint32 `yaml:"fire_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"` // stop aiming when alerts go quiet
}

// Defaults returns a configuration with no motors
func Defaults() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:            DefaultDevice,
			Baud:              DefaultBaud,
			ResponseTimeoutMs: DefaultTimeout,
		},
		Log: LogConfig{Level: "info"},
		Aim: AimConfig{
			FrameWidth:  DefaultFrameWidth,
			FrameHeight: DefaultFrameHeight,
			DeadbandPx:  20,
			MinSpeed:    60,
			MaxSpeed:    255,
			FireMs:      200,
			TimeoutMs:   500,
		},
	}
}

// Load reads a YAML config file over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data into cfg, fills per-motor defaults and validates the result
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(cfg)
	return Validate(cfg)
}

// ApplyDefaults fills in motor fields the file left out
func ApplyDefaults(cfg *Config) {
	next := 0
	for i := range cfg.Motors {
		m := &cfg.Motors[i]
		if m.OID == nil {
			oid := next
			m.OID = &oid
		}
		next = *m.OID + 1
		if m.PWMHz == 0 {
			m.PWMHz = DefaultPWMHz
		}
		if m.Name == "" {
			m.Name = "motor" + strconv.Itoa(*m.OID)
		}
	}
}

// ValidationError lists every problem found in a config
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError if cfg has problems
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if cfg.Serial.Device == "" {
		ve.add("serial.device must be set")
	}
	if cfg.Serial.Baud <= 0 {
		ve.add("serial.baud must be > 0")
	}
	if cfg.Serial.ResponseTimeoutMs <= 0 {
		ve.add("serial.response_timeout_ms must be > 0")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		ve.add("log.level %q must be debug, info, warn or error", cfg.Log.Level)
	}

	names := make(map[string]bool)
	oids := make(map[int]string)
	pins := make(map[string]string)
	for i, m := range cfg.Motors {
		label := fmt.Sprintf("motors[%d] (%s)", i, m.Name)

		if names[m.Name] {
			ve.add("%s: duplicate name", label)
		}
		names[m.Name] = true

		if m.OID == nil || *m.OID < 0 || *m.OID > maxOID {
			ve.add("%s: oid must be in [0, %d]", label, maxOID)
		} else {
			if other, dup := oids[*m.OID]; dup {
				ve.add("%s: oid %d already used by %s", label, *m.OID, other)
			}
			oids[*m.OID] = m.Name
		}

		if m.IN1 == "" || m.IN2 == "" {
			ve.add("%s: in1_pin and in2_pin must be set", label)
			continue
		}
		if m.IN1 == m.IN2 {
			ve.add("%s: in1_pin and in2_pin are both %s", label, m.IN1)
		}
		for _, pin := range []string{m.IN1, m.IN2} {
			if other, dup := pins[pin]; dup && other != m.Name {
				ve.add("%s: pin %s already used by %s", label, pin, other)
			}
			pins[pin] = m.Name
		}
	}

	if cfg.Aim.Listen != "" {
		validateAim(ve, &cfg.Aim, names)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAim(ve *ValidationError, a *AimConfig, motors map[string]bool) {
	if a.PanMotor == "" {
		ve.add("aim.pan_motor must be set when aim.listen is")
	}
	for field, name := range map[string]string{
		"pan_motor":     a.PanMotor,
		"tilt_motor":    a.TiltMotor,
		"trigger_motor": a.TriggerMotor,
	} {
		if name != "" && !motors[name] {
			ve.add("aim.%s %q is not a configured motor", field, name)
		}
	}
	if a.FrameWidth <= 0 || a.FrameHeight <= 0 {
		ve.add("aim.frame_width and aim.frame_height must be > 0")
	}
	if a.DeadbandPx < 0 {
		ve.add("aim.deadband_px must be >= 0")
	}
	if a.MinSpeed < 0 || a.MaxSpeed > 255 || a.MinSpeed > a.MaxSpeed {
		ve.add("aim speeds must satisfy 0 <= min_speed <= max_speed <= 255")
	}
	if a.TimeoutMs <= 0 {
		ve.add("aim.timeout_ms must be > 0")
	}
}
