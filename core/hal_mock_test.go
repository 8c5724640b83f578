package core

import "errors"

// mockPin records what the HAL was last told to do with a pin
type mockPin struct {
	output     bool
	pwm        bool // routed to PWM (true) or driven as plain GPIO (false)
	level      bool
	duty       PWMValue
	resolution uint8
	cycleTicks uint32
}

// MockHAL implements GPIODriver and PWMDriver over an in-memory pin table
type MockHAL struct {
	pins   map[GPIOPin]*mockPin
	writes int
	fail   map[GPIOPin]error
}

func NewMockHAL() *MockHAL {
	return &MockHAL{
		pins: make(map[GPIOPin]*mockPin),
		fail: make(map[GPIOPin]error),
	}
}

func (m *MockHAL) pin(p GPIOPin) *mockPin {
	mp, ok := m.pins[p]
	if !ok {
		mp = &mockPin{}
		m.pins[p] = mp
	}
	return mp
}

func (m *MockHAL) ConfigureOutput(pin GPIOPin) error {
	if err := m.fail[pin]; err != nil {
		return err
	}
	m.pin(pin).output = true
	return nil
}

func (m *MockHAL) SetPin(pin GPIOPin, value bool) error {
	if err := m.fail[pin]; err != nil {
		return err
	}
	mp := m.pin(pin)
	mp.pwm = false
	mp.level = value
	m.writes++
	return nil
}

func (m *MockHAL) GetPin(pin GPIOPin) (bool, error) {
	mp := m.pin(pin)
	if mp.pwm {
		return mp.duty != 0, nil
	}
	return mp.level, nil
}

func (m *MockHAL) ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error) {
	if err := m.fail[GPIOPin(pin)]; err != nil {
		return 0, err
	}
	mp := m.pin(GPIOPin(pin))
	mp.pwm = true
	mp.cycleTicks = cycleTicks
	return cycleTicks, nil
}

func (m *MockHAL) SetResolution(pin PWMPin, bits uint8) error {
	m.pin(GPIOPin(pin)).resolution = bits
	return nil
}

func (m *MockHAL) SetDutyCycle(pin PWMPin, value PWMValue) error {
	if err := m.fail[GPIOPin(pin)]; err != nil {
		return err
	}
	mp := m.pin(GPIOPin(pin))
	if mp.resolution != 0 {
		value &= PWMValue(1)<<mp.resolution - 1
	}
	mp.pwm = true
	mp.duty = value
	m.writes++
	return nil
}

func (m *MockHAL) GetMaxValue() uint32 {
	return MaxDuty
}

func (m *MockHAL) DisablePWM(pin PWMPin) error {
	m.pin(GPIOPin(pin)).pwm = false
	return nil
}

// Duty returns the duty a pin is producing; a pin held high as GPIO reads full scale
func (m *MockHAL) Duty(pin GPIOPin) PWMValue {
	mp := m.pin(pin)
	if !mp.pwm {
		if mp.level {
			return MaxDuty
		}
		return 0
	}
	return mp.duty
}

// High reports whether a pin is held at a static logic high
func (m *MockHAL) High(pin GPIOPin) bool {
	mp := m.pin(pin)
	return !mp.pwm && mp.level
}

var errMockFault = errors.New("mock pin fault")
