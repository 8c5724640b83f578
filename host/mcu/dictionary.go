package mcu

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"turel/protocol"
)

// Dictionary is the parsed firmware data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commands  map[string]*MessageFormat // by name
	responses map[uint16]*MessageFormat // by ID
}

// Param is one "name=%type" field of a message format
type Param struct {
	Name string
	Type string
}

// IsBuffer reports whether the field is a length-prefixed byte string
func (p Param) IsBuffer() bool {
	return strings.HasSuffix(p.Type, "s")
}

// IsSigned reports whether the field is a signed integer
func (p Param) IsSigned() bool {
	return strings.HasSuffix(p.Type, "i")
}

// MessageFormat describes one command or response
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// ParseDictionary decodes the JSON served by identify and indexes its messages
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("unmarshal dictionary: %w", err)
	}

	d.commands = make(map[string]*MessageFormat, len(d.Commands))
	for sig, id := range d.Commands {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, err
		}
		d.commands[f.Name] = f
	}

	d.responses = make(map[uint16]*MessageFormat, len(d.Responses))
	for sig, id := range d.Responses {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, err
		}
		d.responses[f.ID] = f
	}
	return d, nil
}

// parseFormat splits "name a=%c b=%u" into its parts
func parseFormat(sig string, id int) (*MessageFormat, error) {
	if id < 0 || id > 0xFFFF {
		return nil, fmt.Errorf("message %q: id %d out of range", sig, id)
	}
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message signature with id %d", id)
	}

	f := &MessageFormat{ID: uint16(id), Name: fields[0]}
	for _, field := range fields[1:] {
		name, typ, ok := strings.Cut(field, "=")
		if !ok || !strings.HasPrefix(typ, "%") {
			return nil, fmt.Errorf("message %q: bad field %q", sig, field)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ})
	}
	return f, nil
}

// Command returns the format of the named command
func (d *Dictionary) Command(name string) (*MessageFormat, bool) {
	f, ok := d.commands[name]
	return f, ok
}

// Response returns the format of the response with the given ID
func (d *Dictionary) Response(id uint16) (*MessageFormat, bool) {
	f, ok := d.responses[id]
	return f, ok
}

// ResponseByName returns the format of the named response
func (d *Dictionary) ResponseByName(name string) (*MessageFormat, bool) {
	for _, f := range d.responses {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ConfigUint returns a numeric firmware constant
func (d *Dictionary) ConfigUint(name string) (uint32, error) {
	raw, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("firmware constant %s not found", name)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("firmware constant %s=%q: %w", name, raw, err)
	}
	return uint32(v), nil
}

// LookupPin resolves a pin name ("gpio5") through the pin enumeration.
// A bare number must be one of the enumeration's values; without an
// enumeration it is accepted as is.
func (d *Dictionary) LookupPin(name string) (uint32, error) {
	pins := d.Enumerations["pin"]
	if v, ok := pins[name]; ok {
		return uint32(v), nil
	}
	v, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown pin %q", name)
	}
	if len(pins) == 0 {
		return uint32(v), nil
	}
	for _, known := range pins {
		if known >= 0 && uint64(known) == v {
			return uint32(v), nil
		}
	}
	return 0, fmt.Errorf("unknown pin %q: not in the firmware's pin enumeration", name)
}

// Encode builds the argument encoder for a command after checking the argument count
func (f *MessageFormat) Encode(args []uint32) (func(output protocol.OutputBuffer), error) {
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", f.Name, len(f.Params), len(args))
	}
	for _, p := range f.Params {
		if p.IsBuffer() {
			return nil, fmt.Errorf("%s: buffer field %s not supported", f.Name, p.Name)
		}
	}
	if len(args) == 0 {
		return nil, nil
	}
	return func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	}, nil
}

// Response is a decoded response message
type Response struct {
	Name    string
	Values  map[string]uint32
	Buffers map[string][]byte
}

// Uint returns an integer field
func (r *Response) Uint(name string) uint32 {
	return r.Values[name]
}

// Int returns a signed integer field
func (r *Response) Int(name string) int32 {
	return int32(r.Values[name])
}

// Decode parses the fields of a response whose ID has already been consumed
func (f *MessageFormat) Decode(data []byte) (*Response, error) {
	r := &Response{Name: f.Name, Values: make(map[string]uint32)}
	for _, p := range f.Params {
		switch {
		case p.IsBuffer():
			b, err := protocol.DecodeVLQBytes(&data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			if r.Buffers == nil {
				r.Buffers = make(map[string][]byte)
			}
			r.Buffers[p.Name] = b
		case p.IsSigned():
			v, err := protocol.DecodeVLQInt(&data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			r.Values[p.Name] = uint32(v)
		default:
			v, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			r.Values[p.Name] = v
		}
	}
	return r, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// sortedByID orders message signatures by their ID
func sortedByID(m map[string]int) []string {
	sigs := sortedKeys(m)
	slices.SortStableFunc(sigs, func(a, b string) int { return m[a] - m[b] })
	return sigs
}
