package session

import "encoding/json"

// Status is the lifecycle state of the shared stream session.
type Status int

const (
	// Idle: no session is open; the previous one (if any) has been flushed.
	Idle Status = iota
	// Receiving: a session is open and accumulating readings.
	Receiving
	// Closed: the session has been captured for persistence. Transient:
	// the buffer returns to Idle in the same critical section, so Closed
	// is only ever observed on a flushed session's final stats.
	Closed
)

var statusNames = map[Status]string{
	Idle:      "idle",
	Receiving: "receiving",
	Closed:    "closed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
