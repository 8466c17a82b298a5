package session

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Stats is a consistent aggregate view of one session's readings.
type Stats struct {
	SessionID  string
	Status     Status
	Points     int
	Batches    int
	Average    float64
	Min        int32
	Max        int32
	StdDev     float64
	LastUpdate time.Time
}

func computeStats(id uuid.UUID, status Status, readings []int32, batches, points int, lastUpdate time.Time) Stats {
	s := Stats{
		SessionID:  id.String(),
		Status:     status,
		Points:     points,
		Batches:    batches,
		LastUpdate: lastUpdate,
	}
	if len(readings) == 0 {
		return s
	}

	s.Min = readings[0]
	s.Max = readings[0]
	var sum float64
	for _, v := range readings {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += float64(v)
	}
	s.Average = sum / float64(len(readings))

	var sq float64
	for _, v := range readings {
		d := float64(v) - s.Average
		sq += d * d
	}
	// Population standard deviation, matching the aggregate the device
	// dashboards were built against.
	s.StdDev = math.Sqrt(sq / float64(len(readings)))
	return s
}

func mean(readings []int32) float64 {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, v := range readings {
		sum += float64(v)
	}
	return sum / float64(len(readings))
}
