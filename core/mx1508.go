// MX1508 dual H-bridge motor driver
// One instance drives one motor through the chip's two inputs (IN1/IN2)
package core

import (
	"errors"
	"strconv"
)

const (
	// DutyResolutionBits is the PWM resolution the driver configures on both inputs
	DutyResolutionBits = 8

	// MaxDuty is the full-scale duty value at DutyResolutionBits
	MaxDuty = 1<<DutyResolutionBits - 1
)

// Mode selects one of the four output configurations of the bridge
type Mode uint8

const (
	ModeStop    Mode = iota // both inputs at duty 0, motor coasts
	ModeBrake               // both inputs high, motor terminals shorted
	ModeForward             // IN1 at speed, IN2 low
	ModeReverse             // IN2 at speed, IN1 low
)

// ErrInvalidMode is returned for a mode outside ModeStop..ModeReverse
var ErrInvalidMode = errors.New("invalid motor mode")

// String returns the mode name used in logs and the host UI
func (m Mode) String() string {
	switch m {
	case ModeStop:
		return "stop"
	case ModeBrake:
		return "brake"
	case ModeForward:
		return "forward"
	case ModeReverse:
		return "reverse"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// PinError reports a HAL failure on one of the driver's pins
type PinError struct {
	Op  string
	Pin GPIOPin
	Err error
}

func (e *PinError) Error() string {
	return "mx1508: " + e.Op + " pin " + strconv.Itoa(int(e.Pin)) + ": " + e.Err.Error()
}

func (e *PinError) Unwrap() error {
	return e.Err
}

// MX1508 maps motor states onto the two bridge inputs.
// It keeps no record of the last state; the pins are the state.
type MX1508 struct {
	gpio GPIODriver
	pwm  PWMDriver
	in1  GPIOPin // forward input
	in2  GPIOPin // reverse input
}

// NewMX1508 configures in1 and in2 as outputs with 8-bit hardware PWM at
// cycleTicks and leaves the motor coasting.
// Pins are not validated; invalid or shared pins behave as the HAL decides.
func NewMX1508(gpio GPIODriver, pwm PWMDriver, in1, in2 GPIOPin, cycleTicks uint32) (*MX1508, error) {
	d := &MX1508{gpio: gpio, pwm: pwm, in1: in1, in2: in2}

	for _, pin := range [2]GPIOPin{in1, in2} {
		if err := gpio.ConfigureOutput(pin); err != nil {
			return nil, &PinError{Op: "configure output", Pin: pin, Err: err}
		}
		if _, err := pwm.ConfigureHardwarePWM(PWMPin(pin), cycleTicks); err != nil {
			return nil, &PinError{Op: "configure pwm", Pin: pin, Err: err}
		}
		if err := pwm.SetResolution(PWMPin(pin), DutyResolutionBits); err != nil {
			return nil, &PinError{Op: "set resolution", Pin: pin, Err: err}
		}
	}

	if err := d.Stop(); err != nil {
		return nil, err
	}
	return d, nil
}

// Pins returns the forward and reverse input pins
func (d *MX1508) Pins() (in1, in2 GPIOPin) {
	return d.in1, d.in2
}

// Stop lets the motor coast by writing duty 0 to both inputs
func (d *MX1508) Stop() error {
	if err := d.write(d.in1, 0); err != nil {
		return err
	}
	return d.write(d.in2, 0)
}

// Brake holds both inputs high, shorting the motor through the low side.
// Both duties drop to 0 first so a static high never meets the other
// input's PWM.
func (d *MX1508) Brake() error {
	if err := d.Stop(); err != nil {
		return err
	}
	if err := d.level(d.in1, true); err != nil {
		return err
	}
	return d.level(d.in2, true)
}

// Forward drives IN1 at speed and IN2 low. Speed above MaxDuty is clamped.
func (d *MX1508) Forward(speed uint32) error {
	// Release the opposite input first so both are never driven together
	if err := d.write(d.in2, 0); err != nil {
		return err
	}
	return d.write(d.in1, clampDuty(speed))
}

// Reverse drives IN2 at speed and IN1 low. Speed above MaxDuty is clamped.
func (d *MX1508) Reverse(speed uint32) error {
	if err := d.write(d.in1, 0); err != nil {
		return err
	}
	return d.write(d.in2, clampDuty(speed))
}

// Apply sets the bridge to mode. speed is ignored for stop and brake.
func (d *MX1508) Apply(mode Mode, speed uint32) error {
	switch mode {
	case ModeStop:
		return d.Stop()
	case ModeBrake:
		return d.Brake()
	case ModeForward:
		return d.Forward(speed)
	case ModeReverse:
		return d.Reverse(speed)
	default:
		return ErrInvalidMode
	}
}

func (d *MX1508) write(pin GPIOPin, value PWMValue) error {
	if err := d.pwm.SetDutyCycle(PWMPin(pin), value); err != nil {
		return &PinError{Op: "set duty", Pin: pin, Err: err}
	}
	return nil
}

func (d *MX1508) level(pin GPIOPin, high bool) error {
	if err := d.gpio.SetPin(pin, high); err != nil {
		return &PinError{Op: "set level", Pin: pin, Err: err}
	}
	return nil
}

func clampDuty(speed uint32) PWMValue {
	if speed > MaxDuty {
		return MaxDuty
	}
	return PWMValue(speed)
}
