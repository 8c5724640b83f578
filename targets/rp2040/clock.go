//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"turel/core"
)

// RP2040 TIMER peripheral, a free-running 64-bit microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock publishes the clock constants the host converts times with
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.RegisterConstant("CLOCK_FREQ", uint32(core.TimerFreq))
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime copies the hardware counter into the core clock
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
