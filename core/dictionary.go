package core

import (
	"encoding/json"
	"fmt"
	"sync"

	"twowire/tinycompress"
)

// Dictionary is the data dictionary the host downloads with identify. It is
// serialised as JSON in the layout Klipper hosts understand.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]string
	enumerations  map[string]map[string]int
	commands      *CommandRegistry
	version       string
	buildVersions string
	compress      bool
	cached        []byte
	cachedCount   int // registry size when cached was built
}

type dictionaryJSON struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

func NewDictionary(commands *CommandRegistry, version string) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]string),
		enumerations:  make(map[string]map[string]int),
		commands:      commands,
		version:       version,
		buildVersions: "go",
	}
}

// AddConstant publishes a firmware constant. Values are sent as strings.
func (d *Dictionary) AddConstant(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = fmt.Sprint(value)
	d.cached = nil
}

// AddEnumeration publishes values by index. Empty values are skipped.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	enum := make(map[string]int, len(values))
	for i, v := range values {
		if v != "" {
			enum[v] = i
		}
	}
	d.enumerations[name] = enum
	d.cached = nil
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// SetCompression makes Generate wrap the JSON in a zlib stream, the form
// Klipper firmware ships its dictionary in.
func (d *Dictionary) SetCompression(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compress = on
	d.cached = nil
}

// Generate returns the serialised dictionary. It is rebuilt only when the
// registry or the published constants changed.
func (d *Dictionary) Generate() []byte {
	// Fetch before taking d.mu so the two locks are never nested.
	commands, responses := d.commands.CommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	count := len(commands) + len(responses)
	if d.cached != nil && d.cachedCount == count {
		return d.cached
	}

	data, err := json.Marshal(dictionaryJSON{
		Version:       d.version,
		BuildVersions: d.buildVersions,
		Config:        d.constants,
		Commands:      commands,
		Responses:     responses,
		Enumerations:  d.enumerations,
	})
	if err != nil {
		// Only string and int maps are marshalled.
		panic(err)
	}
	if d.compress {
		data = tinycompress.Compress(data)
	}
	d.cached = data
	d.cachedCount = count
	return data
}

// GetChunk returns a copy of up to count bytes starting at offset. It is
// empty once offset passes the end.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}
