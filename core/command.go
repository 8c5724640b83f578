package core

import (
	"errors"
	"strconv"
	"sync"
)

// CommandHandler decodes its own arguments from data and advances it
type CommandHandler func(data *[]byte) error

// Command is one entry of the message dictionary.
// Responses (MCU -> host) are registered with a nil Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c speed=%hu"
	Handler CommandHandler
}

// CommandRegistry assigns message IDs in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// RegisterCommand registers a handler in the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse registers a response message in the global registry
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a message and returns its ID. Registering a name twice
// returns the existing ID.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	return id
}

// GetCommand retrieves a message by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// GetCommandByName retrieves a message by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered messages
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New("unknown command ID: " + strconv.Itoa(int(cmdID)))
	}
	if cmd.Handler == nil {
		return errors.New("not a command: " + cmd.Name)
	}
	return cmd.Handler(data)
}

// GetDictionary returns the registry as "name format" lines in ID order
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dict := ""
	for i := uint16(0); i < r.nextID; i++ {
		if cmd, ok := r.commands[i]; ok {
			dict += signature(cmd) + "\n"
		}
	}
	return dict
}

// GetCommandsAndResponses splits the registry into the two dictionary maps,
// keyed by "name format"
func (r *CommandRegistry) GetCommandsAndResponses() (map[string]int, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]int)
	responses := make(map[string]int)
	for id, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[signature(cmd)] = int(id)
		} else {
			responses[signature(cmd)] = int(id)
		}
	}
	return commands, responses
}

func signature(cmd *Command) string {
	if cmd.Format == "" {
		return cmd.Name
	}
	return cmd.Name + " " + cmd.Format
}

// DispatchCommand dispatches through the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
