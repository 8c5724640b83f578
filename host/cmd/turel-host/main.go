package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"turel/host/aim"
	"turel/host/config"
	"turel/host/mcu"
	"turel/host/serial"
)

var (
	configPath = flag.String("config", "turel.yaml", "YAML configuration file")
	device     = flag.String("device", config.DefaultDevice, "Serial device path (overrides config)")
	baud       = flag.Int("baud", config.DefaultBaud, "Baud rate, ignored for USB CDC (overrides config)")
	verbose    = flag.Bool("verbose", false, "Log every command sent")
	drive      = flag.Bool("drive", false, "Start the interactive drive UI instead of the prompt")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flags the user set explicitly
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Serial.Device = *device
		case "baud":
			cfg.Serial.Baud = *baud
		}
	})
	return cfg, config.Validate(cfg)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if *verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	conn := mcu.NewMCU(logger)
	conn.ResponseTimeout = time.Duration(cfg.Serial.ResponseTimeoutMs) * time.Millisecond

	portCfg := serial.DefaultConfig(cfg.Serial.Device)
	portCfg.Baud = cfg.Serial.Baud
	if err := conn.Connect(portCfg); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.RetrieveDictionary(); err != nil {
		return fmt.Errorf("retrieve dictionary: %w", err)
	}

	specs := make([]mcu.MotorSpec, 0, len(cfg.Motors))
	for _, m := range cfg.Motors {
		specs = append(specs, mcu.MotorSpec{
			Name:          m.Name,
			OID:           uint8(*m.OID),
			IN1:           m.IN1,
			IN2:           m.IN2,
			PWMHz:         m.PWMHz,
			MaxDurationMs: m.MaxDurationMs,
		})
	}
	motors, err := conn.ConfigureMotors(specs)
	if err != nil {
		return fmt.Errorf("configure motors: %w", err)
	}
	if len(motors) == 0 {
		logger.Warn("no motors configured", "config", *configPath)
	}

	s := newSession(conn, motors, os.Stdout)
	defer func() {
		if err := s.each("all", motorControl.Stop); err != nil {
			logger.Warn("stopping motors", "err", err)
		}
	}()

	if cfg.Aim.Listen != "" {
		aimer, err := newAimer(cfg.Aim, conn, motors, logger)
		if err != nil {
			return fmt.Errorf("aim: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := aimer.Serve(ctx, cfg.Aim.Listen); err != nil {
				logger.Error("alert server", "err", err)
			}
		}()
	}

	if *drive {
		return runDrive(s)
	}
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	return s.run(os.Stdin)
}

// newAimer binds the motors named in the aim section
func newAimer(cfg config.AimConfig, conn *mcu.MCU, motors []*mcu.Motor, logger *slog.Logger) (*aim.Aimer, error) {
	var am aim.Motors
	for _, bind := range []struct {
		name string
		dst  *aim.Motor
	}{
		{cfg.PanMotor, &am.Pan},
		{cfg.TiltMotor, &am.Tilt},
		{cfg.TriggerMotor, &am.Trigger},
	} {
		if bind.name == "" {
			continue
		}
		mo, err := mcu.FindMotor(motors, bind.name)
		if err != nil {
			return nil, err
		}
		*bind.dst = mo
	}
	return aim.New(cfg, conn, am, logger.With("component", "aim")), nil
}
