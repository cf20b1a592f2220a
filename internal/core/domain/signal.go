package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// ValidateSignal checks that a relayed negotiation payload has the shape its
// type announces. The payload itself is forwarded untouched.
func ValidateSignal(kind string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}
	switch kind {
	case SignalOffer, SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
		if sd.Type != webrtc.NewSDPType(kind) {
			return fmt.Errorf("%w: sdp type %q does not match %q", ErrInvalidSignal, sd.Type.String(), kind)
		}
		if sd.SDP == "" {
			return fmt.Errorf("%w: sdp is empty", ErrInvalidSignal)
		}
	case SignalICECandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
		// An empty candidate string marks end of candidates and is allowed.
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidSignal, kind)
	}
	return nil
}
