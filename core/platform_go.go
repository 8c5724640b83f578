//go:build !tinygo

package core

// Hosted builds run the core single threaded under test; there is nothing to mask
type irqState struct{}

func disableInterrupts() irqState { return irqState{} }

func restoreInterrupts(irqState) {}

func getSystemTicks() uint32 { return systemTicks }

func setSystemTicks(ticks uint32) { systemTicks = ticks }
