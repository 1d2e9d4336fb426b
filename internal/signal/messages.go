package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Type discriminates POST /signal requests.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice-candidate"
	TypeEndCall   Type = "end-call"
	TypeReject    Type = "reject"
)

// PollType discriminates GET /signal lookups.
type PollType string

const (
	PollOffer      PollType = "offer"
	PollAnswer     PollType = "answer"
	PollCandidates PollType = "ice-candidates"
)

// SessionDescription is the structural wire form of an SDP payload. The SDP
// body itself is opaque to the relay; malformed SDP surfaces as a peer
// connection failure on the client, not as a relay error.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the structural wire form of one ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// PostRequest is the body of POST /signal.
type PostRequest struct {
	Type       Type   `json:"type"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`

	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}

// ParsePostRequest strictly decodes a POST /signal body. Unknown fields and
// trailing data are rejected so malformed clients fail loudly instead of
// having fields silently dropped.
func ParsePostRequest(data []byte) (PostRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req PostRequest
	if err := dec.Decode(&req); err != nil {
		return PostRequest{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return PostRequest{}, fmt.Errorf("unexpected trailing data")
	}
	if err := req.Validate(); err != nil {
		return PostRequest{}, err
	}
	return req, nil
}

func (r PostRequest) Validate() error {
	if err := validateUserID("fromUserId", r.FromUserID); err != nil {
		return err
	}
	if err := validateUserID("toUserId", r.ToUserID); err != nil {
		return err
	}
	if r.FromUserID == r.ToUserID {
		return fmt.Errorf("fromUserId and toUserId must differ")
	}

	switch r.Type {
	case TypeOffer:
		if r.Offer == nil {
			return fmt.Errorf("offer signal missing offer")
		}
		if r.Offer.Type != "offer" {
			return fmt.Errorf("offer signal has sdp type %q", r.Offer.Type)
		}
		if r.Answer != nil || r.Candidate != nil {
			return fmt.Errorf("offer signal has unexpected fields")
		}
	case TypeAnswer:
		if r.Answer == nil {
			return fmt.Errorf("answer signal missing answer")
		}
		if r.Answer.Type != "answer" {
			return fmt.Errorf("answer signal has sdp type %q", r.Answer.Type)
		}
		if r.Offer != nil || r.Candidate != nil {
			return fmt.Errorf("answer signal has unexpected fields")
		}
	case TypeCandidate:
		if r.Candidate == nil {
			return fmt.Errorf("ice-candidate signal missing candidate")
		}
		if r.Offer != nil || r.Answer != nil {
			return fmt.Errorf("ice-candidate signal has unexpected fields")
		}
	case TypeEndCall, TypeReject:
		if r.Offer != nil || r.Answer != nil || r.Candidate != nil {
			return fmt.Errorf("%s signal has unexpected fields", r.Type)
		}
	default:
		return fmt.Errorf("unsupported signal type %q", r.Type)
	}
	return nil
}

const maxUserIDLen = 128

func validateUserID(field, id string) error {
	if id == "" {
		return fmt.Errorf("missing %s", field)
	}
	if len(id) > maxUserIDLen {
		return fmt.Errorf("%s too long", field)
	}
	// The separator is reserved by the canonical call key format.
	if strings.Contains(id, ":") {
		return fmt.Errorf("%s contains reserved character", field)
	}
	return nil
}

// PostResponse is the success body of POST /signal.
type PostResponse struct {
	Success bool `json:"success"`
}

// PollResponse is the body of GET /signal. Exactly one of the fields is set
// for a non-empty result; an empty poll (no record, or the requested part is
// absent) serializes as {}.
type PollResponse struct {
	Offer      *SessionDescription `json:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty"`
	Candidates []Candidate         `json:"candidates,omitempty"`
}

// ErrorResponse is the JSON error body shared by all relay endpoints.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
