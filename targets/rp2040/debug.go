//go:build rp2040

package main

import (
	"machine"

	"turel/core"
)

// debugUART is set at link time to enable diagnostics on UART0 (GPIO0 TX, GPIO1 RX):
//
//	tinygo flash -target=pico -ldflags="-X main.debugUART=1" ./targets/rp2040
var debugUART string

// initDebug routes core.DebugPrintln to UART0 when enabled.
// GPIO0 and GPIO1 must then stay out of the motor configuration.
func initDebug() {
	if debugUART == "" {
		return
	}
	uart := machine.UART0
	if err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	}); err != nil {
		return
	}
	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.DebugPrintln("[boot] debug on UART0")
}
