package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
)

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

const (
	Debit  TransactionType = "debit"
	Credit TransactionType = "credit"
)

const (
	TxSuccess TransactionStatus = "success"
	TxFailed  TransactionStatus = "failed"
	TxPending TransactionStatus = "pending"
)

// DateLayout is the wire and storage format of goal deadlines.
const DateLayout = "2006-01-02"

type (
	Frequency         string
	GoalStatus        string
	InvitationStatus  string
	TransactionType   string
	TransactionStatus string

	Date struct {
		time.Time
	}

	User struct {
		ID        string `json:"id"`
		FullName  string `json:"fullName"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatarUrl,omitempty"`
		PartnerID string `json:"partnerId,omitempty"` // empty when not linked
	}

	// UserUpdate carries the fields of a partial profile update. Nil fields are left untouched.
	UserUpdate struct {
		FullName  *string `json:"fullName,omitempty"`
		Email     *string `json:"email,omitempty"`
		AvatarURL *string `json:"avatarUrl,omitempty"`
	}

	Invitation struct {
		ID           string           `json:"id"`
		SenderID     string           `json:"senderId"`
		InvitedEmail string           `json:"invitedEmail"`
		Status       InvitationStatus `json:"status"`
		SentAt       time.Time        `json:"sentAt"`
	}

	Goal struct {
		ID                    string     `json:"id"`
		PartnershipID         string     `json:"partnershipId"`
		Name                  string     `json:"name"`
		TargetAmount          Money      `json:"targetAmount"`
		CurrentAmount         Money      `json:"currentAmount"`
		Deadline              Date       `json:"deadline"`
		ContributionPerPerson Money      `json:"contributionPerPerson"` // per person, per contribution event
		Frequency             Frequency  `json:"frequency"`
		Status                GoalStatus `json:"status"`
		CreatedAt             time.Time  `json:"createdAt"`
	}

	// GoalInput is what a client supplies to create a goal.
	GoalInput struct {
		Name                  string    `json:"name"`
		TargetAmount          Money     `json:"targetAmount"`
		Deadline              string    `json:"deadline"`
		Frequency             Frequency `json:"frequency"`
		ContributionPerPerson Money     `json:"contributionPerPerson"`
	}

	Transaction struct {
		ID        string            `json:"id"`
		GoalID    string            `json:"goalId"`
		UserID    string            `json:"userId"`
		UserName  string            `json:"userName"`
		Amount    Money             `json:"amount"`
		Type      TransactionType   `json:"type"`
		Status    TransactionStatus `json:"status"`
		Timestamp time.Time         `json:"timestamp"`
		Reference string            `json:"reference"`
	}
)

// HasPartner reports whether the user is linked to a savings partner.
func (u User) HasPartner() bool {
	return u.PartnerID != ""
}

// Apply merges the non-nil fields of upd into u.
func (u User) Apply(upd UserUpdate) User {
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = *upd.AvatarURL
	}
	return u
}

// PartnershipID identifies the pair of a and b regardless of argument order.
func PartnershipID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Partnership returns the partnership id of u, or an empty string when u has no partner.
func (u User) Partnership() string {
	if !u.HasPartner() {
		return ""
	}
	return PartnershipID(u.ID, u.PartnerID)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (s GoalStatus) Valid() bool {
	switch s {
	case GoalActive, GoalPaused, GoalCompleted:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Debit || t == Credit
}

// CanTransition reports whether a goal may move from s to next.
// Completed goals are terminal.
func (s GoalStatus) CanTransition(next GoalStatus) bool {
	if !next.Valid() || s == GoalCompleted {
		return false
	}
	return s != next
}

// Validate checks the input and returns the parsed deadline.
var amountRange = "must be between 0.01 and " + Money{Cents: MaxCents}.String()

func (in GoalInput) Validate() (Date, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Date{}, NewValidationError("name", "must not be empty")
	}
	if len(in.Name) > 200 {
		return Date{}, NewValidationError("name", "too long (max 200 characters)")
	}
	if err := in.TargetAmount.Validate(); err != nil {
		return Date{}, NewValidationError("targetAmount", amountRange)
	}
	if err := in.ContributionPerPerson.Validate(); err != nil {
		return Date{}, NewValidationError("contributionPerPerson", amountRange)
	}
	if !in.Frequency.Valid() {
		return Date{}, NewValidationError("frequency", fmt.Sprintf("unknown frequency %q", in.Frequency))
	}
	deadline, err := ParseDate(in.Deadline)
	if err != nil {
		return Date{}, NewValidationError("deadline", "must be a YYYY-MM-DD date")
	}
	return deadline, nil
}

// Percent is the progress towards the target, rounded and capped at 100.
func (g Goal) Percent() int {
	if g.TargetAmount.Cents <= 0 {
		return 0
	}
	p := (g.CurrentAmount.Cents*100 + g.TargetAmount.Cents/2) / g.TargetAmount.Cents
	if p > 100 {
		return 100
	}
	return int(p)
}

// Remaining is the amount still missing to reach the target, never negative.
func (g Goal) Remaining() Money {
	if g.CurrentAmount.Cents >= g.TargetAmount.Cents {
		return Money{}
	}
	return Money{Cents: g.TargetAmount.Cents - g.CurrentAmount.Cents}
}

// CombinedContribution is what both partners put in together on each contribution event.
func (g Goal) CombinedContribution() Money {
	return Money{Cents: g.ContributionPerPerson.Cents * 2}
}

// Reached reports whether the current amount has met the target.
func (g Goal) Reached() bool {
	return g.CurrentAmount.Cents >= g.TargetAmount.Cents
}
