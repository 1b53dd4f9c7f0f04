package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Notes:
//   - Document bodies are JSON-compatible maps/slices/scalars, which JSON
//     round-trips losslessly (numbers decode as float64; the engine
//     normalizes identity fields on load).
//   - If you need custom encoding (e.g. msgpack), implement Codec and set it
//     on the database.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
