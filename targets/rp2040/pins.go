//go:build rp2040

package main

import (
	"errors"
	"strconv"

	"turel/core"

	"machine"

	"tinygo.org/x/drivers/l9110x"
)

const (
	numGPIO   = 30
	numSlices = 8
)

var errBadPin = errors.New("no such gpio")

// pinState tracks how a bridge input is currently routed
type pinState struct {
	pin     machine.Pin
	slice   l9110x.PWM
	channel uint8
	bits    uint8
	pwm     bool // routed to the PWM slice (true) or driven by SIO (false)
}

// RP2040PinDriver implements both core.GPIODriver and core.PWMDriver.
// One driver owns both roles because an MX1508 input switches between a
// PWM duty cycle (drive) and a static high level (brake).
type RP2040PinDriver struct {
	pins map[core.GPIOPin]*pinState

	// Period in nanoseconds each slice was configured with.
	// Both channels of a slice share it.
	periods [numSlices]uint64
}

// NewRP2040PinDriver creates a driver with no pins configured
func NewRP2040PinDriver() *RP2040PinDriver {
	return &RP2040PinDriver{pins: make(map[core.GPIOPin]*pinState)}
}

func (d *RP2040PinDriver) state(pin core.GPIOPin) (*pinState, error) {
	if pin >= numGPIO {
		return nil, errBadPin
	}
	ps, ok := d.pins[pin]
	if !ok {
		ps = &pinState{pin: machine.Pin(pin), bits: 8}
		d.pins[pin] = ps
	}
	return ps, nil
}

// ConfigureOutput configures a pin as a digital output driven low
func (d *RP2040PinDriver) ConfigureOutput(pin core.GPIOPin) error {
	ps, err := d.state(pin)
	if err != nil {
		return err
	}
	ps.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	ps.pin.Low()
	ps.pwm = false
	return nil
}

// SetPin takes the pin away from its PWM slice and drives a static level
func (d *RP2040PinDriver) SetPin(pin core.GPIOPin, value bool) error {
	ps, err := d.state(pin)
	if err != nil {
		return err
	}
	if ps.pwm {
		ps.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		ps.pwm = false
	}
	ps.pin.Set(value)
	return nil
}

// GetPin reads the pin level
func (d *RP2040PinDriver) GetPin(pin core.GPIOPin) (bool, error) {
	ps, err := d.state(pin)
	if err != nil {
		return false, err
	}
	return ps.pin.Get(), nil
}

// ConfigureHardwarePWM attaches the pin to its slice.
// GPIO N belongs to slice (N>>1)&7, channel A for even pins and B for odd.
func (d *RP2040PinDriver) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	ps, err := d.state(core.GPIOPin(pin))
	if err != nil {
		return 0, err
	}

	sliceNum := uint8((uint32(pin) >> 1) & 0x7)
	slice := pwmSlice(sliceNum)

	// Timer ticks are microseconds
	period := uint64(cycleTicks) * 1000
	switch existing := d.periods[sliceNum]; {
	case existing == 0:
		if err := slice.Configure(machine.PWMConfig{Period: period}); err != nil {
			return 0, err
		}
	case existing != period:
		// The sibling channel changes speed too
		core.DebugPrintln("[pwm] slice " + strconv.Itoa(int(sliceNum)) +
			" period changed by gpio" + strconv.Itoa(int(pin)))
		if err := slice.SetPeriod(period); err != nil {
			return 0, err
		}
	}

	channel, err := slice.Channel(ps.pin)
	if err != nil {
		return 0, err
	}
	slice.Set(channel, 0)

	d.periods[sliceNum] = period
	ps.slice = slice
	ps.channel = channel
	ps.pwm = true
	return cycleTicks, nil
}

// SetResolution sets the bit width of values passed to SetDutyCycle
func (d *RP2040PinDriver) SetResolution(pin core.PWMPin, bits uint8) error {
	if bits == 0 || bits > 16 {
		return errors.New("pwm resolution out of range: " + strconv.Itoa(int(bits)))
	}
	ps, err := d.state(core.GPIOPin(pin))
	if err != nil {
		return err
	}
	ps.bits = bits
	return nil
}

// SetDutyCycle scales value to the slice's TOP and routes the pin back to
// PWM if a static level had taken it over
func (d *RP2040PinDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	ps, err := d.state(core.GPIOPin(pin))
	if err != nil {
		return err
	}
	if ps.slice == nil {
		return errors.New("gpio" + strconv.Itoa(int(pin)) + " has no pwm slice")
	}

	if !ps.pwm {
		// Channel() switches the pad function back to PWM
		if _, err := ps.slice.Channel(ps.pin); err != nil {
			return err
		}
		ps.pwm = true
	}

	maxValue := uint64(1)<<ps.bits - 1
	v := uint64(value) & maxValue
	ps.slice.Set(ps.channel, uint32(v*uint64(ps.slice.Top())/maxValue))
	return nil
}

// GetMaxValue returns the full-scale duty at the default 8-bit resolution
func (d *RP2040PinDriver) GetMaxValue() uint32 {
	return core.MaxDuty
}

// DisablePWM detaches the pin from its slice and leaves it driven low
func (d *RP2040PinDriver) DisablePWM(pin core.PWMPin) error {
	ps, err := d.state(core.GPIOPin(pin))
	if err != nil {
		return err
	}
	if ps.slice != nil && ps.pwm {
		ps.slice.Set(ps.channel, 0)
	}
	ps.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	ps.pin.Low()
	ps.pwm = false
	return nil
}

// pwmSlice returns the peripheral for a slice number.
// machine.PWMn are unexported *pwmGroup values; l9110x.PWM names their method set.
func pwmSlice(sliceNum uint8) l9110x.PWM {
	switch sliceNum {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

// registerPins publishes gpio0..gpio29 so the host can name pins
func registerPins() {
	names := make([]string, numGPIO)
	for i := range names {
		names[i] = "gpio" + strconv.Itoa(i)
	}
	core.RegisterEnumeration("pin", names)
}
