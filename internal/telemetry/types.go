package telemetry

import (
	"math"
	"time"
)

// Sample is one decoded reading from the flight device.
type Sample struct {
	Timestamp    float64 `json:"timestamp" msgpack:"timestamp"`
	Temperature  float64 `json:"temperature" msgpack:"temperature"`
	Voltage      float64 `json:"voltage" msgpack:"voltage"`
	GyroX        float64 `json:"gyroX" msgpack:"gyroX"`
	GyroY        float64 `json:"gyroY" msgpack:"gyroY"`
	GyroZ        float64 `json:"gyroZ" msgpack:"gyroZ"`
	Altitude     float64 `json:"altitude" msgpack:"altitude"`
	AltitudeRate float64 `json:"altitudeDiff" msgpack:"altitudeDiff"`
	Latitude     float64 `json:"latitude" msgpack:"latitude"`
	Longitude    float64 `json:"longitude" msgpack:"longitude"`
	LaunchStage  int     `json:"launchStatus" msgpack:"launchStatus"`
	ErrorCode    int     `json:"errorCode" msgpack:"errorCode"`
	Raw          string  `json:"rawData" msgpack:"rawData"`
}

// Time converts the producer timestamp (seconds) to a wall-clock time.
func (s Sample) Time() time.Time {
	sec, frac := math.Modf(s.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Channel names tracked by the buffer store, in display order.
const (
	ChannelTemperature  = "temperature"
	ChannelVoltage      = "voltage"
	ChannelGyroX        = "gyroX"
	ChannelGyroY        = "gyroY"
	ChannelGyroZ        = "gyroZ"
	ChannelAltitude     = "altitude"
	ChannelAltitudeRate = "altitudeDiff"
)

// Channels lists every tracked channel.
var Channels = []string{
	ChannelTemperature,
	ChannelVoltage,
	ChannelGyroX,
	ChannelGyroY,
	ChannelGyroZ,
	ChannelAltitude,
	ChannelAltitudeRate,
}

// Value returns the scalar for a tracked channel.
func (s Sample) Value(channel string) (float64, bool) {
	switch channel {
	case ChannelTemperature:
		return s.Temperature, true
	case ChannelVoltage:
		return s.Voltage, true
	case ChannelGyroX:
		return s.GyroX, true
	case ChannelGyroY:
		return s.GyroY, true
	case ChannelGyroZ:
		return s.GyroZ, true
	case ChannelAltitude:
		return s.Altitude, true
	case ChannelAltitudeRate:
		return s.AltitudeRate, true
	}
	return 0, false
}

// Valid code range shared by launch stage and error code.
const (
	MinCode = 0
	MaxCode = 5
)
