package core

// TimerFreq is the tick rate of the core clock in Hz
const TimerFreq = 1000000

var systemTicks uint32

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time; targets call this from the main loop
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns uptime in timer ticks
func GetUptime() uint64 {
	return uint64(GetTime())
}

// ProcessTimers runs every scheduled timer that is due
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
