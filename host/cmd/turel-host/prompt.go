package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"turel/core"
	"turel/host/mcu"
)

// motorControl is what the prompt and drive UI need from a motor
type motorControl interface {
	Stop() error
	Brake() error
	Forward(speed uint32) error
	Reverse(speed uint32) error
	Drive(speed int) error
	Queue(clock uint32, mode core.Mode, speed uint32) error
}

// firmware is what the prompt needs from the MCU connection
type firmware interface {
	Clock() (uint32, error)
	Uptime() (uint64, error)
	ClockFreq() (uint32, error)
	State() (*mcu.State, error)
	EmergencyStop() error
	PrintDictionary(w io.Writer)
	DictionaryRaw() []byte
}

var errQuit = errors.New("quit")

// session runs prompt commands against a set of named motors
type session struct {
	fw     firmware
	names  []string // configuration order
	motors map[string]motorControl
	out    io.Writer
}

func newSession(fw firmware, motors []*mcu.Motor, out io.Writer) *session {
	s := &session{fw: fw, motors: make(map[string]motorControl), out: out}
	for _, m := range motors {
		s.add(m.Name, m)
	}
	return s
}

func (s *session) add(name string, m motorControl) {
	s.names = append(s.names, name)
	s.motors[name] = m
}

// run reads commands from in until EOF or quit
func (s *session) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			break
		}
		err := s.exec(scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// exec runs one command line
func (s *session) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	switch cmd := strings.ToLower(args[0]); cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		s.printHelp()
		return nil

	case "dict":
		s.fw.PrintDictionary(s.out)
		return nil

	case "raw":
		raw := s.fw.DictionaryRaw()
		fmt.Fprintf(s.out, "Raw dictionary data (%d bytes):\n%s\n", len(raw), raw)
		return nil

	case "motors":
		for _, name := range s.names {
			fmt.Fprintln(s.out, " ", name)
		}
		return nil

	case "status":
		return s.status()

	case "estop":
		return s.fw.EmergencyStop()

	case "stop", "brake":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <motor|all>", cmd)
		}
		return s.each(args[1], func(m motorControl) error {
			if cmd == "brake" {
				return m.Brake()
			}
			return m.Stop()
		})

	case "fwd", "forward", "rev", "reverse":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <motor> <speed>", cmd)
		}
		m, err := s.motor(args[1])
		if err != nil {
			return err
		}
		speed, err := parseSpeed(args[2])
		if err != nil {
			return err
		}
		if cmd == "fwd" || cmd == "forward" {
			return m.Forward(speed)
		}
		return m.Reverse(speed)

	case "queue":
		return s.queue(args[1:])

	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
}

// queue <motor> <delay_ms> <mode> [speed]
func (s *session) queue(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: queue <motor> <delay_ms> <mode> [speed]")
	}
	m, err := s.motor(args[0])
	if err != nil {
		return err
	}
	delayMs, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("bad delay %q", args[1])
	}
	mode, err := parseMode(args[2])
	if err != nil {
		return err
	}
	var speed uint32
	if len(args) == 4 {
		if speed, err = parseSpeed(args[3]); err != nil {
			return err
		}
	}

	freq, err := s.fw.ClockFreq()
	if err != nil {
		return err
	}
	now, err := s.fw.Clock()
	if err != nil {
		return err
	}
	clock := now + uint32(delayMs*uint64(freq)/1000)
	if err := m.Queue(clock, mode, speed); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s at clock %d\n", args[0], mode, clock)
	return nil
}

func (s *session) status() error {
	clock, err := s.fw.Clock()
	if err != nil {
		return err
	}
	uptime, err := s.fw.Uptime()
	if err != nil {
		return err
	}
	state, err := s.fw.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "clock=%d uptime=%d configured=%t crc=0x%08x shutdown=%t\n",
		clock, uptime, state.IsConfig, state.CRC, state.IsShutdown)
	return nil
}

func (s *session) motor(name string) (motorControl, error) {
	m, ok := s.motors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mcu.ErrUnknownMotor, name)
	}
	return m, nil
}

// each applies fn to one motor or, for "all", to every motor
func (s *session) each(name string, fn func(motorControl) error) error {
	if name != "all" {
		m, err := s.motor(name)
		if err != nil {
			return err
		}
		return fn(m)
	}
	var errs []error
	for _, n := range s.names {
		if err := fn(s.motors[n]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (s *session) printHelp() {
	fmt.Fprint(s.out, `Commands:
  motors                              list configured motors
  fwd <motor> <speed>                 drive IN1 at speed (0-255)
  rev <motor> <speed>                 drive IN2 at speed (0-255)
  stop <motor|all>                    coast
  brake <motor|all>                   short the motor terminals
  queue <motor> <delay_ms> <mode> [speed]
                                      apply stop|brake|fwd|rev after delay_ms
  estop                               emergency stop, coasts every motor
  status                              firmware clock and config state
  dict                                print the firmware dictionary
  raw                                 print the dictionary JSON
  quit                                exit
`)
}

func parseSpeed(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad speed %q", s)
	}
	return uint32(v), nil
}

func parseMode(s string) (core.Mode, error) {
	switch strings.ToLower(s) {
	case "stop", "coast":
		return core.ModeStop, nil
	case "brake":
		return core.ModeBrake, nil
	case "fwd", "forward":
		return core.ModeForward, nil
	case "rev", "reverse":
		return core.ModeReverse, nil
	default:
		return 0, fmt.Errorf("bad mode %q", s)
	}
}
