package core

// DebugWriter receives one line of firmware diagnostics
type DebugWriter func(string)

// nil until a target installs one; output costs loop time on the MCU
var debugWriter DebugWriter

// SetDebugWriter installs w as the diagnostics sink. nil silences output.
func SetDebugWriter(w DebugWriter) {
	debugWriter = w
}

// DebugPrintln hands msg to the installed writer, if any
func DebugPrintln(msg string) {
	if w := debugWriter; w != nil {
		w(msg)
	}
}
