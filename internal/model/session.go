package model

// Phase is the lifecycle phase of a tenant's messaging session.
type Phase string

const (
	// PhaseIdle: a session entry exists and the provider is connecting,
	// but no pairing artifact has been issued yet.
	PhaseIdle Phase = "idle"
	// PhasePairingIssued: a pairing artifact was generated and the tenant
	// has not confirmed it yet.
	PhasePairingIssued Phase = "pairing_issued"
	// PhaseAuthenticated: the tenant confirmed the pairing; ready to send.
	PhaseAuthenticated Phase = "authenticated"
	// PhaseDisconnected: terminal until an explicit restart.
	PhaseDisconnected Phase = "disconnected"
)

func (p Phase) String() string { return string(p) }

// Status is the externally visible session status vocabulary.
type Status string

const (
	StatusConnected      Status = "connected"
	StatusWaitingForScan Status = "waiting_for_scan"
	StatusGeneratingQR   Status = "generating_qr"
	StatusNotFound       Status = "not_found"
)

func (s Status) String() string { return string(s) }

// StatusOf maps an internal phase to the status vocabulary. Disconnected
// entries report not_found: they are restartable but hold no live session.
func StatusOf(p Phase) Status {
	switch p {
	case PhaseAuthenticated:
		return StatusConnected
	case PhasePairingIssued:
		return StatusWaitingForScan
	case PhaseIdle:
		return StatusGeneratingQR
	default:
		return StatusNotFound
	}
}
