package mcu

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"turel/core"
)

// MotorSpec describes one MX1508 channel to configure on the firmware
type MotorSpec struct {
	Name          string
	OID           uint8
	IN1           string // pin name or number
	IN2           string
	PWMHz         uint32
	MaxDurationMs uint32
}

// Motor drives one configured MX1508 channel
type Motor struct {
	mcu  *MCU
	Name string
	OID  uint8
	IN1  uint32
	IN2  uint32
}

// ConfigureMotors resets the firmware configuration, sends one
// config_mx1508 per MotorSpec and finalizes with a CRC of the sent commands
func (m *MCU) ConfigureMotors(specs []MotorSpec) ([]*Motor, error) {
	dict := m.Dictionary()
	if dict == nil {
		return nil, ErrNoDictionary
	}
	clockFreq, err := dict.ConfigUint("CLOCK_FREQ")
	if err != nil {
		return nil, err
	}

	state, err := m.State()
	if err != nil {
		return nil, err
	}
	if state.IsShutdown {
		return nil, fmt.Errorf("%w: %s", ErrFirmwareHalted, m.ShutdownReason())
	}
	if err := m.SendCommand("config_reset"); err != nil {
		return nil, err
	}

	crc := crc32.NewIEEE()
	motors := make([]*Motor, 0, len(specs))
	for _, spec := range specs {
		in1, err := dict.LookupPin(spec.IN1)
		if err != nil {
			return nil, fmt.Errorf("motor %s in1: %w", spec.Name, err)
		}
		in2, err := dict.LookupPin(spec.IN2)
		if err != nil {
			return nil, fmt.Errorf("motor %s in2: %w", spec.Name, err)
		}
		if spec.PWMHz == 0 || spec.PWMHz > clockFreq {
			return nil, fmt.Errorf("motor %s: pwm_hz %d out of range", spec.Name, spec.PWMHz)
		}

		cycleTicks := clockFreq / spec.PWMHz
		maxDuration := uint32(uint64(spec.MaxDurationMs) * uint64(clockFreq) / 1000)

		motor := &Motor{mcu: m, Name: spec.Name, OID: spec.OID, IN1: in1, IN2: in2}
		if err := motor.Configure(cycleTicks, maxDuration); err != nil {
			return nil, fmt.Errorf("motor %s: %w", spec.Name, err)
		}
		fmt.Fprintf(crc, "config_mx1508 oid=%d in1_pin=%d in2_pin=%d cycle_ticks=%d max_duration=%d\n",
			spec.OID, in1, in2, cycleTicks, maxDuration)
		motors = append(motors, motor)

		m.logger.Info("motor configured", "name", spec.Name, "oid", spec.OID,
			"in1", in1, "in2", in2, "cycle_ticks", cycleTicks, "max_duration", maxDuration)
	}

	if err := m.SendCommand("finalize_config", crc.Sum32()); err != nil {
		return nil, err
	}
	return motors, nil
}

// Configure sends config_mx1508 for this motor
func (mo *Motor) Configure(cycleTicks, maxDuration uint32) error {
	return mo.mcu.SendCommand("config_mx1508", uint32(mo.OID), mo.IN1, mo.IN2, cycleTicks, maxDuration)
}

// Stop lets the motor coast
func (mo *Motor) Stop() error {
	return mo.mcu.SendCommand("mx1508_stop", uint32(mo.OID))
}

// Brake shorts the motor terminals
func (mo *Motor) Brake() error {
	return mo.mcu.SendCommand("mx1508_brake", uint32(mo.OID))
}

// Forward drives IN1 at speed; the firmware clamps speed to 255
func (mo *Motor) Forward(speed uint32) error {
	return mo.mcu.SendCommand("mx1508_forward", uint32(mo.OID), speed)
}

// Reverse drives IN2 at speed
func (mo *Motor) Reverse(speed uint32) error {
	return mo.mcu.SendCommand("mx1508_reverse", uint32(mo.OID), speed)
}

// Drive maps a signed speed onto Forward, Reverse or Stop
func (mo *Motor) Drive(speed int) error {
	switch {
	case speed > 0:
		return mo.Forward(uint32(speed))
	case speed < 0:
		return mo.Reverse(uint32(-speed))
	default:
		return mo.Stop()
	}
}

// Queue schedules mode at the firmware clock value clock
func (mo *Motor) Queue(clock uint32, mode core.Mode, speed uint32) error {
	if mode > core.ModeReverse {
		return core.ErrInvalidMode
	}
	return mo.mcu.SendCommand("queue_mx1508", uint32(mo.OID), clock, uint32(mode), speed)
}

// String returns "name (oid N)"
func (mo *Motor) String() string {
	return mo.Name + " (oid " + strconv.Itoa(int(mo.OID)) + ")"
}

// FindMotor returns the motor called name
func FindMotor(motors []*Motor, name string) (*Motor, error) {
	for _, mo := range motors {
		if mo.Name == name {
			return mo, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMotor, name)
}
