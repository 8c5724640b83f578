// Package aim steers pan and tilt motors toward the person a detector has
// flagged, and pulses a trigger motor when the armed operator fires.
package aim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"turel/core"
	"turel/host/config"
)

var ErrOutOfFrame = errors.New("person_center outside frame")

// Motor is what aiming needs from a motor channel
type Motor interface {
	Stop() error
	Drive(speed int) error
	Forward(speed uint32) error
	Queue(clock uint32, mode core.Mode, speed uint32) error
}

// Clock reads the firmware clock for timed trigger pulses
type Clock interface {
	Clock() (uint32, error)
	ClockFreq() (uint32, error)
}

// Point is an [x, y] pixel position in the camera frame
type Point [2]int

// Alert is one detection posted by the vision host
type Alert struct {
	WeaponType   string `json:"weapon_type"`
	WeaponCenter Point  `json:"weapon_center"`
	PersonCenter Point  `json:"person_center"`
	Armed        bool   `json:"button_state"`
	Fire         bool   `json:"fire_command"`
}

// Result reports the speeds applied for one alert
type Result struct {
	Pan   int  `json:"pan"`
	Tilt  int  `json:"tilt"`
	Fired bool `json:"fired"`
}

// Motors are the channels an Aimer drives. Tilt and Trigger may be nil.
type Motors struct {
	Pan     Motor
	Tilt    Motor
	Trigger Motor
}

// Aimer turns alerts into motor commands. Alerts are applied one at a time
// in arrival order.
type Aimer struct {
	cfg    config.AimConfig
	clock  Clock
	motors Motors
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	last     time.Time
	tracking bool
	fired    int
}

func New(cfg config.AimConfig, clock Clock, motors Motors, logger *slog.Logger) *Aimer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aimer{
		cfg:    cfg,
		clock:  clock,
		motors: motors,
		logger: logger,
		now:    time.Now,
	}
}

// Handle points the motors at a.PersonCenter and fires if asked to while armed
func (a *Aimer) Handle(alert *Alert) (Result, error) {
	x, y := alert.PersonCenter[0], alert.PersonCenter[1]
	if x < 0 || y < 0 || x >= a.cfg.FrameWidth || y >= a.cfg.FrameHeight {
		return Result{}, fmt.Errorf("%w: (%d, %d) in %dx%d", ErrOutOfFrame,
			x, y, a.cfg.FrameWidth, a.cfg.FrameHeight)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = a.now()
	a.tracking = true

	var res Result
	res.Pan = a.axis(x, a.cfg.FrameWidth)
	errs := []error{drive("pan", a.motors.Pan, res.Pan)}
	if a.motors.Tilt != nil {
		res.Tilt = a.axis(y, a.cfg.FrameHeight)
		errs = append(errs, drive("tilt", a.motors.Tilt, res.Tilt))
	}

	if alert.Fire {
		switch {
		case !alert.Armed:
			a.logger.Warn("fire ignored while disarmed", "weapon", alert.WeaponType)
		case a.motors.Trigger == nil:
			a.logger.Warn("fire ignored, no trigger motor", "weapon", alert.WeaponType)
		default:
			err := a.fire()
			res.Fired = err == nil
			errs = append(errs, err)
		}
	}

	a.logger.Debug("alert", "weapon", alert.WeaponType, "person", alert.PersonCenter,
		"pan", res.Pan, "tilt", res.Tilt, "fired", res.Fired)
	return res, errors.Join(errs...)
}

// axis maps a pixel position to a signed speed. Positions right of or below
// the centre give positive speeds; wire the motor so forward moves that way.
func (a *Aimer) axis(pos, size int) int {
	offset := pos - size/2
	dist := offset
	if dist < 0 {
		dist = -dist
	}
	if dist <= a.cfg.DeadbandPx {
		return 0
	}

	speed := a.cfg.MaxSpeed
	if span := size/2 - a.cfg.DeadbandPx; span > 0 {
		speed = a.cfg.MinSpeed + (dist-a.cfg.DeadbandPx)*(a.cfg.MaxSpeed-a.cfg.MinSpeed)/span
		speed = min(speed, a.cfg.MaxSpeed)
	}
	if offset < 0 {
		return -speed
	}
	return speed
}

// fire runs the trigger forward and queues a stop FireMs later on the
// firmware clock, so the pulse ends even if the host stalls
func (a *Aimer) fire() error {
	now, err := a.clock.Clock()
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	freq, err := a.clock.ClockFreq()
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	ticks := uint32(uint64(a.cfg.FireMs) * uint64(freq) / 1000)

	if err := a.motors.Trigger.Forward(uint32(a.cfg.MaxSpeed)); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := a.motors.Trigger.Queue(now+ticks, core.ModeStop, 0); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	a.fired++
	return nil
}

// Expire stops pan and tilt once no alert has arrived for TimeoutMs.
// It reports whether it stopped them.
func (a *Aimer) Expire() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	timeout := time.Duration(a.cfg.TimeoutMs) * time.Millisecond
	if !a.tracking || a.now().Sub(a.last) < timeout {
		return false, nil
	}
	a.tracking = false
	a.logger.Info("target lost, stopping", "idle", a.now().Sub(a.last))
	return true, a.stop()
}

func (a *Aimer) stop() error {
	errs := []error{stop("pan", a.motors.Pan)}
	if a.motors.Tilt != nil {
		errs = append(errs, stop("tilt", a.motors.Tilt))
	}
	return errors.Join(errs...)
}

// Status is the aimer's state for the status endpoint
type Status struct {
	Tracking  bool      `json:"tracking"`
	LastAlert time.Time `json:"last_alert"`
	Fired     int       `json:"fired"`
}

func (a *Aimer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Tracking: a.tracking, LastAlert: a.last, Fired: a.fired}
}

func drive(axis string, m Motor, speed int) error {
	if err := m.Drive(speed); err != nil {
		return fmt.Errorf("%s: %w", axis, err)
	}
	return nil
}

func stop(axis string, m Motor) error {
	if err := m.Stop(); err != nil {
		return fmt.Errorf("%s: %w", axis, err)
	}
	return nil
}
