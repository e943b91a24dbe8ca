package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried in Envelope.Type
const (
	EventContributionApplied = "contribution.applied"
	EventInvitationSent      = "invitation.pending"
	EventInvitationAccepted  = "invitation.accepted"
	EventInvitationRejected  = "invitation.rejected"
)

// ContributionMessage describes one applied contribution event (a debit pair)
type ContributionMessage struct {
	GoalID           string    `json:"goalId"`
	PartnershipID    string    `json:"partnershipId"`
	PayerID          string    `json:"payerId"`
	PartnerID        string    `json:"partnerId"`
	Reference        string    `json:"reference"`
	PerPersonCents   int64     `json:"perPersonCents"`
	TotalCents       int64     `json:"totalCents"`
	GoalCurrentCents int64     `json:"goalCurrentCents"`
	GoalStatus       string    `json:"goalStatus"`
	Timestamp        time.Time `json:"timestamp"`
}

// InvitationMessage describes an invitation status change
type InvitationMessage struct {
	InvitationID string    `json:"invitationId"`
	SenderID     string    `json:"senderId"`
	InvitedEmail string    `json:"invitedEmail"`
	Status       string    `json:"status"`
	PartnerID    string    `json:"partnerId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Envelope is the wire format of every message on the queue
type Envelope struct {
	Type         string               `json:"type"`
	Contribution *ContributionMessage `json:"contribution,omitempty"`
	Invitation   *InvitationMessage   `json:"invitation,omitempty"`
	PublishedAt  time.Time            `json:"publishedAt"`
}

// NewContributionEnvelope wraps msg for publishing
func NewContributionEnvelope(msg ContributionMessage) *Envelope {
	return &Envelope{Type: EventContributionApplied, Contribution: &msg, PublishedAt: time.Now()}
}

// NewInvitationEnvelope wraps msg for publishing. The event type follows the status.
func NewInvitationEnvelope(msg InvitationMessage) *Envelope {
	return &Envelope{Type: "invitation." + msg.Status, Invitation: &msg, PublishedAt: time.Now()}
}

// ToJSON converts the envelope to JSON bytes
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EnvelopeFromJSON decodes and checks an envelope
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch {
	case env.Type == EventContributionApplied:
		if env.Contribution == nil {
			return nil, fmt.Errorf("%s event without contribution payload", env.Type)
		}
	case env.Type == EventInvitationSent, env.Type == EventInvitationAccepted, env.Type == EventInvitationRejected:
		if env.Invitation == nil {
			return nil, fmt.Errorf("%s event without invitation payload", env.Type)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	return &env, nil
}
