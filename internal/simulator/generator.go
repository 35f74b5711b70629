// Package simulator stands in for the flight device: it flies a simulated
// CanSat profile and serves the frames over a websocket.
package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Launch site the GPS track wanders around.
const (
	LaunchLatitude  = -7.7714
	LaunchLongitude = 110.3775
)

// Generator produces one flight. It is not safe for concurrent use.
type Generator struct {
	rnd   *rand.Rand
	clock func() time.Time

	stage    mission.Stage
	altitude float64
	previous float64
	lat, lon float64
}

// NewGenerator starts a flight on the pad. seed 0 picks a time-based seed.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		clock: time.Now,
		stage: mission.PreLaunch,
		lat:   LaunchLatitude,
		lon:   LaunchLongitude,
	}
}

func (g *Generator) Stage() mission.Stage { return g.stage }

// Next advances the flight by one tick.
func (g *Generator) Next() telemetry.Sample {
	now := g.clock()
	ts := float64(now.UnixMilli()) / 1000

	// 5% chance per tick to move to the next stage
	if g.stage < mission.Landed && g.rnd.Float64() < 0.05 {
		g.stage++
	}

	switch g.stage {
	case mission.Ascending, mission.Cruising:
		g.altitude += g.rnd.Float64() * 50
	case mission.Descending, mission.Landed:
		g.altitude -= g.rnd.Float64() * 30
		if g.altitude < 0 {
			g.altitude = 0
		}
	}
	rate := g.altitude - g.previous
	g.previous = g.altitude

	g.lat += (g.rnd.Float64() - 0.5) * 0.001
	g.lon += (g.rnd.Float64() - 0.5) * 0.001

	code := 0
	if g.rnd.Float64() < 0.1 {
		code = g.rnd.Intn(5) + 1
	}

	return telemetry.Sample{
		Timestamp:    ts,
		Temperature:  20 + g.rnd.Float64()*15,
		Voltage:      11.1 + g.rnd.Float64()*1.5,
		GyroX:        (g.rnd.Float64() - 0.5) * 360,
		GyroY:        (g.rnd.Float64() - 0.5) * 360,
		GyroZ:        (g.rnd.Float64() - 0.5) * 360,
		Altitude:     g.altitude,
		AltitudeRate: rate,
		Latitude:     g.lat,
		Longitude:    g.lon,
		LaunchStage:  int(g.stage),
		ErrorCode:    code,
		Raw: fmt.Sprintf("RAW|%d|%.2f|%.4f|%.4f|%.2f",
			now.Unix(), g.altitude, g.lat, g.lon, g.rnd.Float64()*100),
	}
}

// Corrupt damages an encoded frame so the decoder has to reject it.
func (g *Generator) Corrupt(frame []byte) []byte {
	switch g.rnd.Intn(3) {
	case 0:
		// truncated
		return frame[:len(frame)/2]
	case 1:
		return []byte("RAW|garbage|" + fmt.Sprint(g.rnd.Int63()))
	default:
		// required field missing
		return []byte(`{"timestamp":0,"temperature":21.5}`)
	}
}
