//go:build tinygo

package core

import (
	"runtime/interrupt"
	"sync/atomic"
)

type irqState = interrupt.State

// Timer list edits must not race the timer dispatch
func disableInterrupts() irqState { return interrupt.Disable() }

func restoreInterrupts(s irqState) { interrupt.Restore(s) }

// The USB reader goroutine and the main loop both read the clock
func getSystemTicks() uint32 { return atomic.LoadUint32(&systemTicks) }

func setSystemTicks(ticks uint32) { atomic.StoreUint32(&systemTicks, ticks) }
