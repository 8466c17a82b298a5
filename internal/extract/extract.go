// Package extract parses the sensor's wire format. The device sends one
// reading per line, prefixed by the output-field marker, e.g. "Z 00421".
package extract

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoValidData is returned when a payload yields no readings at all.
var ErrNoValidData = errors.New("no valid data")

// Values extracts the readings from a raw payload in arrival order.
// Lines without the marker prefix are skipped silently; marker lines
// with an unparseable value field are logged and skipped. A payload
// with zero usable lines fails with ErrNoValidData.
func Values(payload string) ([]int32, error) {
	var out []int32
	for _, line := range strings.Split(strings.TrimSpace(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (line[0] != 'Z' && line[0] != 'z') {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			log.Warn().Str("line", line).Msg("failed to parse reading")
			continue
		}
		out = append(out, int32(v))
	}
	if len(out) == 0 {
		return nil, ErrNoValidData
	}
	return out, nil
}
