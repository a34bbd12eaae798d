// Package pose defines the boundary contract with the on-device pose
// estimation collaborator. The session core treats landmark snapshots as
// opaque beyond their timestamp and serialisable payload: capture and
// inference happen elsewhere and push snapshots at their own cadence.
package pose

import (
	"encoding/json"
	"fmt"
	"time"
)

// Landmark is one body keypoint in normalised image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Snapshot is one pose observation pushed by the landmark provider.
type Snapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Landmarks []Landmark `json:"landmarks"`
}

// Payload serialises the snapshot for transmission as a context turn.
func (s Snapshot) Payload() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("pose: marshal snapshot: %w", err)
	}
	return string(data), nil
}
