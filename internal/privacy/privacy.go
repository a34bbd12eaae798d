// Package privacy defines the consent gate consulted before any upload
// decision. The consent UI itself lives outside the session core; this
// package only specifies the boolean queries the orchestrator asks
// synchronously on every upload path.
package privacy

// Policy answers upload-permission queries. Implementations must be safe for
// concurrent use and must answer without blocking — these calls sit on the
// audio hot path.
type Policy interface {
	// AudioUploadAllowed reports whether microphone audio may leave the
	// device.
	AudioUploadAllowed() bool

	// LandmarkUploadAllowed reports whether pose landmark snapshots may
	// leave the device.
	LandmarkUploadAllowed() bool

	// OfflineMode reports whether the user has disabled all cloud
	// processing. When true, both upload queries must answer false and the
	// session stays in local-only feedback mode.
	OfflineMode() bool
}

// Static is an immutable [Policy] fixed at construction. The application
// shell rebuilds the session's policy when the user changes consent.
type Static struct {
	Audio     bool
	Landmarks bool
	Offline   bool
}

var _ Policy = Static{}

func (s Static) AudioUploadAllowed() bool {
	return s.Audio && !s.Offline
}

func (s Static) LandmarkUploadAllowed() bool {
	return s.Landmarks && !s.Offline
}

func (s Static) OfflineMode() bool { return s.Offline }
