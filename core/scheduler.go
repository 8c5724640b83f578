package core

// Timer is a scheduled callback. Handlers return SF_DONE or SF_RESCHEDULE;
// a rescheduling handler sets WakeTime before returning.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// timerIsBefore compares clocks across 32-bit wraparound
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ScheduleTimer adds a timer to the schedule. A timer that is already
// scheduled is moved to its new WakeTime.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	removeTimer(t)
	insertTimer(t)
}

// CancelTimer removes t from the schedule if present
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	removeTimer(t)
}

// insertTimer links t in WakeTime order, after any timer due at the same time
func insertTimer(t *Timer) {
	if timerList == nil || timerIsBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !timerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func removeTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for current := timerList; current != nil; current = current.Next {
		if current.Next == t {
			current.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// TimerDispatch runs every timer due at or before currentTime
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !timerIsBefore(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// IsTimerScheduled reports whether t is waiting in the schedule
func IsTimerScheduled(t *Timer) bool {
	for current := timerList; current != nil; current = current.Next {
		if current == t {
			return true
		}
	}
	return false
}
