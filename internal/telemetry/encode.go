package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serialises a sample in the given wire format.
func Encode(s Sample, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(s)
	case FormatMsgpack:
		return msgpack.Marshal(s)
	}
	return nil, fmt.Errorf("telemetry: cannot encode as %s", f)
}

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "":
		return FormatJSON, nil
	case "msgpack":
		return FormatMsgpack, nil
	}
	return FormatUnknown, fmt.Errorf("telemetry: unknown encoding %q", s)
}
