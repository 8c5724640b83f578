package core

// PWMPin identifies a hardware pin capable of PWM output
type PWMPin uint32

// PWMValue is a duty cycle value in the resolution configured for the pin
type PWMValue uint32

// PWMDriver is the duty cycle half of the HAL.
type PWMDriver interface {
	// ConfigureHardwarePWM routes a pin to its PWM peripheral.
	// cycleTicks is the PWM period in timer ticks; the returned value is the
	// period the hardware actually settled on.
	ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error)

	// SetResolution selects the duty cycle resolution in bits for a pin.
	// Values passed to SetDutyCycle are then in [0, 2^bits-1].
	SetResolution(pin PWMPin, bits uint8) error

	// SetDutyCycle writes a duty cycle. Out of range values are truncated by
	// the implementation.
	SetDutyCycle(pin PWMPin, value PWMValue) error

	// GetMaxValue returns the maximum duty value at the default resolution
	GetMaxValue() uint32

	// DisablePWM detaches a pin from its PWM peripheral
	DisablePWM(pin PWMPin) error
}

var pwmDriver PWMDriver

// SetPWMDriver is called by target-specific code to register its driver.
func SetPWMDriver(d PWMDriver) {
	pwmDriver = d
}

// MustPWM returns the configured driver or panics if missing.
func MustPWM() PWMDriver {
	if pwmDriver == nil {
		panic("PWM driver not configured")
	}
	return pwmDriver
}
