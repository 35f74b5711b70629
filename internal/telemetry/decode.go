package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel errors matched with errors.Is against a *DecodeError.
var (
	ErrMalformed  = errors.New("telemetry: malformed frame")
	ErrFieldRange = errors.New("telemetry: field out of range")
)

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	Malformed ErrorKind = iota
	FieldRange
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case FieldRange:
		return "field_range"
	default:
		return "unknown"
	}
}

// DecodeError reports why a frame was rejected.
type DecodeError struct {
	Kind  ErrorKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	base := ErrMalformed.Error()
	if e.Kind == FieldRange {
		base = ErrFieldRange.Error()
	}
	if e.Field != "" {
		base += " (" + e.Field + ")"
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == Malformed
	case ErrFieldRange:
		return e.Kind == FieldRange
	}
	return false
}

// Format identifies the payload encoding of a frame.
type Format int

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// DetectFormat sniffs the encoding from the first significant byte.
func DetectFormat(raw []byte) Format {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return FormatUnknown
	}
	c := trimmed[0]
	switch {
	case c == '{':
		return FormatJSON
	case c >= 0x80 && c <= 0x8f, c == 0xde, c == 0xdf:
		return FormatMsgpack
	}
	return FormatUnknown
}

// wireSample mirrors Sample with pointers so absent fields can be told apart from zero.
type wireSample struct {
	Timestamp    *float64 `json:"timestamp" msgpack:"timestamp"`
	Temperature  *float64 `json:"temperature" msgpack:"temperature"`
	Voltage      *float64 `json:"voltage" msgpack:"voltage"`
	GyroX        *float64 `json:"gyroX" msgpack:"gyroX"`
	GyroY        *float64 `json:"gyroY" msgpack:"gyroY"`
	GyroZ        *float64 `json:"gyroZ" msgpack:"gyroZ"`
	Altitude     *float64 `json:"altitude" msgpack:"altitude"`
	AltitudeRate *float64 `json:"altitudeDiff" msgpack:"altitudeDiff"`
	Latitude     *float64 `json:"latitude" msgpack:"latitude"`
	Longitude    *float64 `json:"longitude" msgpack:"longitude"`
	LaunchStage  *int64   `json:"launchStatus" msgpack:"launchStatus"`
	ErrorCode    *int64   `json:"errorCode" msgpack:"errorCode"`
	Raw          *string  `json:"rawData" msgpack:"rawData"`
}

// Decoder turns one frame into a Sample. The zero value is lenient about
// launch stage and error codes; use Strict to reject codes outside 0..5.
type Decoder struct {
	Strict bool
}

var strictDecoder = Decoder{Strict: true}

// Decode parses raw with the strict decoder.
func Decode(raw []byte) (Sample, error) {
	return strictDecoder.Decode(raw)
}

// Decode parses raw into a validated Sample. It has no side effects.
func (d Decoder) Decode(raw []byte) (Sample, error) {
	var w wireSample

	switch DetectFormat(raw) {
	case FormatJSON:
		if err := checkKeys(raw); err != nil {
			return Sample{}, err
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return Sample{}, &DecodeError{Kind: Malformed, Err: err}
		}
	case FormatMsgpack:
		r := bytes.NewReader(raw)
		if err := msgpack.NewDecoder(r).Decode(&w); err != nil {
			return Sample{}, &DecodeError{Kind: Malformed, Err: err}
		}
		if r.Len() != 0 {
			return Sample{}, &DecodeError{Kind: Malformed, Err: errors.New("trailing data after payload")}
		}
	default:
		return Sample{}, &DecodeError{Kind: Malformed, Err: errors.New("unrecognised payload encoding")}
	}

	return d.validate(w)
}

var wireKeys = []string{
	"timestamp", "temperature", "voltage", "gyroX", "gyroY", "gyroZ",
	"altitude", "altitudeDiff", "latitude", "longitude",
	"launchStatus", "errorCode", "rawData",
}

// checkKeys rejects keys that only match a field name case-insensitively,
// which encoding/json would otherwise accept.
func checkKeys(raw []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &DecodeError{Kind: Malformed, Err: err}
	}
	for k := range obj {
		for _, want := range wireKeys {
			if k != want && strings.EqualFold(k, want) {
				return &DecodeError{Kind: Malformed, Field: want, Err: fmt.Errorf("key %q must be spelled %q", k, want)}
			}
		}
	}
	return nil
}

func (d Decoder) validate(w wireSample) (Sample, error) {
	floats := []struct {
		name string
		v    *float64
	}{
		{"timestamp", w.Timestamp},
		{"temperature", w.Temperature},
		{"voltage", w.Voltage},
		{"gyroX", w.GyroX},
		{"gyroY", w.GyroY},
		{"gyroZ", w.GyroZ},
		{"altitude", w.Altitude},
		{"altitudeDiff", w.AltitudeRate},
		{"latitude", w.Latitude},
		{"longitude", w.Longitude},
	}
	for _, f := range floats {
		if f.v == nil {
			return Sample{}, missing(f.name)
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			return Sample{}, &DecodeError{Kind: Malformed, Field: f.name, Err: errors.New("not a finite number")}
		}
	}
	if w.LaunchStage == nil {
		return Sample{}, missing("launchStatus")
	}
	if w.ErrorCode == nil {
		return Sample{}, missing("errorCode")
	}
	if w.Raw == nil {
		return Sample{}, missing("rawData")
	}

	if d.Strict {
		if err := checkCode("launchStatus", *w.LaunchStage); err != nil {
			return Sample{}, err
		}
		if err := checkCode("errorCode", *w.ErrorCode); err != nil {
			return Sample{}, err
		}
	}

	return Sample{
		Timestamp:    *w.Timestamp,
		Temperature:  *w.Temperature,
		Voltage:      *w.Voltage,
		GyroX:        *w.GyroX,
		GyroY:        *w.GyroY,
		GyroZ:        *w.GyroZ,
		Altitude:     *w.Altitude,
		AltitudeRate: *w.AltitudeRate,
		Latitude:     *w.Latitude,
		Longitude:    *w.Longitude,
		LaunchStage:  clampInt(*w.LaunchStage),
		ErrorCode:    clampInt(*w.ErrorCode),
		Raw:          *w.Raw,
	}, nil
}

func missing(field string) error {
	return &DecodeError{Kind: Malformed, Field: field, Err: errors.New("field is required")}
}

func checkCode(field string, v int64) error {
	if v < MinCode || v > MaxCode {
		return &DecodeError{
			Kind:  FieldRange,
			Field: field,
			Err:   fmt.Errorf("value %d outside %d..%d", v, MinCode, MaxCode),
		}
	}
	return nil
}

// clampInt keeps lenient out-of-range codes representable on 32-bit platforms.
func clampInt(v int64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}
