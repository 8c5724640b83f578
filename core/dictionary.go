package core

import (
	"bytes"
	"sort"
	"strconv"
	"sync"

	"turel/tinycompress"
)

// Constant is a firmware value published to the host
type Constant struct {
	Name  string
	Value interface{}
}

// Enumeration maps value names to their wire index (e.g. pin names)
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON data dictionary the host reads with identify.
// It is served zlib-compressed.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cached        []byte
	compressed    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over cmdReg
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "turel-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds or replaces a constant
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cached, d.compressed = nil, nil
}

// AddEnumeration adds or replaces an enumeration
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep our own copy; callers often build the slice on the stack
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cached, d.compressed = nil, nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached, d.compressed = nil, nil
}

// BuildDictionary renders and caches the dictionary.
// Call once after every command has been registered.
func (d *Dictionary) BuildDictionary() {
	// Fetch from the registry before taking our own lock
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(commands, responses)
	d.compressed = compress(d.cached)
	DebugPrintln("[dict] built " + strconv.Itoa(len(d.cached)) + " bytes, " +
		strconv.Itoa(len(d.compressed)) + " compressed")
}

// Generate returns the JSON dictionary, rendering it if not cached
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.render(commands, responses)
}

// Compressed returns the zlib stream served by identify
func (d *Dictionary) Compressed() []byte {
	d.mu.RLock()
	compressed := d.compressed
	d.mu.RUnlock()
	if compressed != nil {
		return compressed
	}
	return compress(d.Generate())
}

func compress(raw []byte) []byte {
	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf, len(raw))
	w.Write(raw)
	if err := w.Close(); err != nil {
		DebugPrintln("[dict] compress failed: " + err.Error())
		return nil
	}
	return buf.Bytes()
}

// render builds the JSON by hand; encoding/json reflection is costly on TinyGo.
// Caller must hold d.mu.
func (d *Dictionary) render(commands, responses map[string]int) []byte {
	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = strconv.AppendQuote(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = strconv.AppendQuote(out, d.buildVersions)

	out = append(out, `,"config":{`...)
	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, name)
		out = append(out, ':')
		out = strconv.AppendQuote(out, valueToString(d.constants[name].Value))
	}

	out = append(out, `},"commands":`...)
	out = appendIDMap(out, commands)
	out = append(out, `,"responses":`...)
	out = appendIDMap(out, responses)

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sort.Strings(enumNames)
		for i, name := range enumNames {
			if i > 0 {
				out = append(out, ',')
			}
			out = strconv.AppendQuote(out, name)
			out = append(out, ":{"...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				out = strconv.AppendQuote(out, value)
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(idx), 10)
				first = false
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}

	return append(out, '}')
}

// appendIDMap writes {"signature":id,...} ordered by id
func appendIDMap(out []byte, m map[string]int) []byte {
	sigs := make([]string, 0, len(m))
	for sig := range m {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return m[sigs[i]] < m[sigs[j]] })

	out = append(out, '{')
	for i, sig := range sigs {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, sig)
		out = append(out, ':')
		out = strconv.AppendInt(out, int64(m[sig]), 10)
	}
	return append(out, '}')
}

func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// GetChunk returns a copy of up to count compressed dictionary bytes
// starting at offset. An empty chunk tells the host it has everything.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	// Copy: the output path may still be reading this chunk when the cache is rebuilt
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
