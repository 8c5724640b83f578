package core

import (
	"errors"
	"strconv"

	"turel/protocol"
)

var (
	// ErrUnknownOID is returned for a motor command on an OID that was never configured
	ErrUnknownOID = errors.New("mx1508: unknown oid")

	// ErrOIDInUse is returned when config_mx1508 reuses a configured OID
	ErrOIDInUse = errors.New("mx1508: oid already configured")

	// ErrShutdown is returned for drive commands while the firmware is shut down
	ErrShutdown = errors.New("mx1508: firmware is shut down")
)

// MotorOut is one configured motor: the bridge plus its pending queued
// command and its max_duration deadline
type MotorOut struct {
	oid         uint8
	driver      *MX1508
	maxDuration uint32

	queueTimer  Timer
	queuedMode  Mode
	queuedSpeed uint32

	endTimer Timer
}

var motors = make(map[uint8]*MotorOut)

// InitMotorCommands registers the MX1508 commands
func InitMotorCommands() {
	RegisterCommand("config_mx1508", "oid=%c in1_pin=%u in2_pin=%u cycle_ticks=%u max_duration=%u", handleConfigMX1508)
	RegisterCommand("mx1508_stop", "oid=%c", handleMX1508Stop)
	RegisterCommand("mx1508_brake", "oid=%c", handleMX1508Brake)
	RegisterCommand("mx1508_forward", "oid=%c speed=%hu", handleMX1508Forward)
	RegisterCommand("mx1508_reverse", "oid=%c speed=%hu", handleMX1508Reverse)
	RegisterCommand("queue_mx1508", "oid=%c clock=%u mode=%c speed=%hu", handleQueueMX1508)

	RegisterConstant("MX1508_MAX_DUTY", MaxDuty)
}

// GetMotor returns the motor configured on oid
func GetMotor(oid uint8) (*MotorOut, bool) {
	m, ok := motors[oid]
	return m, ok
}

// Driver returns the bridge behind the motor
func (m *MotorOut) Driver() *MX1508 {
	return m.driver
}

// handleConfigMX1508 sets up a motor
// Format: config_mx1508 oid=%c in1_pin=%u in2_pin=%u cycle_ticks=%u max_duration=%u
func handleConfigMX1508(data *[]byte) error {
	var args [5]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	oid := uint8(args[0])

	if _, exists := motors[oid]; exists {
		return ErrOIDInUse
	}

	driver, err := NewMX1508(MustGPIO(), MustPWM(), GPIOPin(args[1]), GPIOPin(args[2]), args[3])
	if err != nil {
		return err
	}

	m := &MotorOut{oid: oid, driver: driver, maxDuration: args[4]}
	m.queueTimer.Handler = m.queueEvent
	m.endTimer.Handler = m.endEvent
	motors[oid] = m

	DebugPrintln("[mx1508] oid=" + strconv.Itoa(int(oid)) +
		" in1=" + strconv.Itoa(int(args[1])) +
		" in2=" + strconv.Itoa(int(args[2])))
	return nil
}

func handleMX1508Stop(data *[]byte) error {
	m, err := decodeMotor(data)
	if err != nil {
		return err
	}
	CancelTimer(&m.queueTimer)
	return m.apply(ModeStop, 0)
}

func handleMX1508Brake(data *[]byte) error {
	m, err := decodeMotor(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	CancelTimer(&m.queueTimer)
	return m.apply(ModeBrake, 0)
}

func handleMX1508Forward(data *[]byte) error {
	return handleDrive(data, ModeForward)
}

func handleMX1508Reverse(data *[]byte) error {
	return handleDrive(data, ModeReverse)
}

func handleDrive(data *[]byte, mode Mode) error {
	m, err := decodeMotor(data)
	if err != nil {
		return err
	}
	speed, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	CancelTimer(&m.queueTimer)
	return m.apply(mode, speed)
}

// handleQueueMX1508 schedules a mode change at an absolute clock.
// A newer queued command replaces one that has not fired yet.
// Format: queue_mx1508 oid=%c clock=%u mode=%c speed=%hu
func handleQueueMX1508(data *[]byte) error {
	m, err := decodeMotor(data)
	if err != nil {
		return err
	}
	var args [3]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	mode := Mode(args[1])
	if mode > ModeReverse {
		return ErrInvalidMode
	}
	if IsShutdown() && mode != ModeStop {
		return ErrShutdown
	}

	m.queuedMode = mode
	m.queuedSpeed = args[2]
	m.queueTimer.WakeTime = args[0]
	ScheduleTimer(&m.queueTimer)
	return nil
}

func decodeMotor(data *[]byte) (*MotorOut, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	m, ok := motors[uint8(oid)]
	if !ok {
		return nil, ErrUnknownOID
	}
	return m, nil
}

// apply sets the bridge and arms or clears the max_duration deadline
func (m *MotorOut) apply(mode Mode, speed uint32) error {
	if err := m.driver.Apply(mode, speed); err != nil {
		return err
	}

	if mode == ModeStop || m.maxDuration == 0 {
		CancelTimer(&m.endTimer)
		return nil
	}
	m.endTimer.WakeTime = GetTime() + m.maxDuration
	ScheduleTimer(&m.endTimer)
	return nil
}

func (m *MotorOut) queueEvent(t *Timer) uint8 {
	if err := m.apply(m.queuedMode, m.queuedSpeed); err != nil {
		DebugPrintln("[mx1508] oid=" + strconv.Itoa(int(m.oid)) + " queued " +
			m.queuedMode.String() + " failed: " + err.Error())
	}
	return SF_DONE
}

// endEvent coasts a motor whose last command outlived max_duration
func (m *MotorOut) endEvent(t *Timer) uint8 {
	if err := m.driver.Stop(); err != nil {
		DebugPrintln("[mx1508] oid=" + strconv.Itoa(int(m.oid)) + " timeout stop failed: " + err.Error())
	}
	return SF_DONE
}

// ShutdownAllMotors coasts every motor and drops their pending timers
func ShutdownAllMotors() {
	for oid, m := range motors {
		CancelTimer(&m.queueTimer)
		CancelTimer(&m.endTimer)
		if err := m.driver.Stop(); err != nil {
			DebugPrintln("[mx1508] oid=" + strconv.Itoa(int(oid)) + " shutdown stop failed: " + err.Error())
		}
	}
}

// resetMotors coasts and forgets every configured motor
func resetMotors() {
	ShutdownAllMotors()
	motors = make(map[uint8]*MotorOut)
}
