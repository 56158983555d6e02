package models

import "time"

// Direction tells whether this instance is the target (incoming) or the
// source (outgoing) of a migration.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

func (d Direction) Valid() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

// Status is the state of a migration request.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAccepted     Status = "accepted"
	StatusRejected     Status = "rejected"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:      {StatusAccepted, StatusRejected, StatusFailed},
	StatusAccepted:     {StatusTransferring, StatusFailed},
	StatusTransferring: {StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusTransferring, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a legal edge.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MigrationRequest is the durable record of one migration attempt.
type MigrationRequest struct {
	ID           string    `json:"id"`
	Direction    Direction `json:"direction"`
	SourceDomain string    `json:"source_domain"`
	// TargetDomain is set on outgoing requests only.
	TargetDomain string `json:"target_domain,omitempty"`
	UserName     string `json:"username"`
	Email        string `json:"email,omitempty"`
	UserID       string `json:"user_id"`

	Token          string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	Status          Status     `json:"status"`
	AcceptedBy      string     `json:"accepted_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenUsable reports whether the request token may still authorize
// federation calls at now.
func (r *MigrationRequest) TokenUsable(now time.Time) bool {
	return !r.Status.IsTerminal() && now.Before(r.TokenExpiresAt)
}

// StatusUpdate describes one compare-and-set status transition. Optional
// fields are written only when non-empty.
type StatusUpdate struct {
	ID              string
	From            Status
	To              Status
	AcceptedBy      string
	RejectionReason string
	ErrorMessage    string
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// RequestFilter narrows List results. Zero values match everything.
type RequestFilter struct {
	Status    Status
	Direction Direction
}

// Announcement is what a source sends to a target when it starts an
// outgoing migration.
type Announcement struct {
	Token        string `json:"token" validate:"required,hexadecimal,len=64"`
	SourceDomain string `json:"source_domain" validate:"required,hostname_port|hostname"`
	UserName     string `json:"username" validate:"required,max=64"`
	Email        string `json:"email" validate:"omitempty,email"`
	UserID       string `json:"user_id" validate:"required,max=64"`
	// TokenExpiresAt lets the target reject a request the source will no
	// longer honour.
	TokenExpiresAt time.Time `json:"token_expires_at" validate:"required"`
}
