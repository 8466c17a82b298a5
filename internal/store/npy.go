// Package store persists completed sessions as NumPy array files, one
// .npy per session, so recordings load directly into analysis notebooks.
package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const filePrefix = "co2_data_"

// NpyWriter writes int32 recordings in NumPy format 1.0 into a fixed
// directory, named by each session's closure time.
type NpyWriter struct {
	dir string
}

func NewNpyWriter(dir string) (*NpyWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recording dir: %w", err)
	}
	return &NpyWriter{dir: dir}, nil
}

// Persist writes readings as a little-endian int32 array file and logs
// its summary statistics. Must not be called with an empty slice.
func (w *NpyWriter) Persist(readings []int32, completedAt time.Time) (string, error) {
	if len(readings) == 0 {
		return "", fmt.Errorf("refusing to persist empty session")
	}

	name := filePrefix + completedAt.Format("20060102_150405") + ".npy"
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if err := writeNpy(f, readings); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	min, max, avg := summarize(readings)
	log.Info().
		Str("path", path).
		Int("points", len(readings)).
		Float64("avg", avg).
		Int32("min", min).
		Int32("max", max).
		Msg("saved session recording")
	return path, nil
}

// writeNpy emits NumPy format 1.0: the magic string, version bytes, a
// space-padded ASCII header dict aligned so the payload starts on a
// 64-byte boundary, then the raw little-endian words.
func writeNpy(w io.Writer, readings []int32) error {
	header := fmt.Sprintf("{'descr': '<i4', 'fortran_order': False, 'shape': (%d,), }", len(readings))
	total := 10 + len(header) + 1 // preamble + header + trailing newline
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	buf := make([]byte, 0, 10+len(header))
	buf = append(buf, 0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, readings)
}

func summarize(readings []int32) (min, max int32, avg float64) {
	min, max = readings[0], readings[0]
	var sum float64
	for _, v := range readings {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += float64(v)
	}
	return min, max, sum / float64(len(readings))
}
