//go:build rp2040

package main

import (
	"machine"
	"time"

	"turel/core"
	"turel/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors uint32

	// USB link state
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear a watchdog left running by a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	initDebug()
	InitUSB()
	InitClock()

	core.InitCoreCommands()
	core.InitMotorCommands()
	registerPins()

	pins := NewRP2040PinDriver()
	core.SetGPIODriver(pins)
	core.SetPWMDriver(pins)

	// Every command is registered; render the dictionary once
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// The host waits for the ACK before it looks for a response
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[cmd] " + err.Error())
	})
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// Watchdog reset re-enumerates USB more reliably than SYSRESETREQ
		core.ShutdownAllMotors()
		if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
			return
		}
		if err := machine.Watchdog.Start(); err != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
					core.TryShutdown("firmware panic")
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				in := protocol.NewSliceInputBuffer(data)
				transport.Receive(in)
				if consumed := originalLen - in.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
			}

			// After the output is flushed so the ACK for reset reaches the host
			core.CheckPendingReset()

			core.ProcessTimers()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves received bytes into inputBuffer
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// A new host session: coast the motors and start clean
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				core.ResetFirmwareState()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{b}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB flushes outputBuffer. Repeated failures mark the host as gone
// and coast every motor.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
				core.ShutdownAllMotors()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
