// Package models - marketplace.go holds the domain rows whose recent history feeds
// the risk signals: profiles, projects, bids, payments and messages.
package models

import "time"

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Project statuses
const (
	ProjectStatusOpen   = "open"
	ProjectStatusClosed = "closed"
)

// Profile is the public face of a user
type Profile struct {
	UserID      string    `json:"user_id" db:"user_id"`
	DisplayName *string   `json:"display_name,omitempty" db:"display_name"`
	Headline    *string   `json:"headline,omitempty" db:"headline"`
	Bio         *string   `json:"bio,omitempty" db:"bio"`
	HourlyRate  *float64  `json:"hourly_rate,omitempty" db:"hourly_rate"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Project is a job posted by a client
type Project struct {
	ID          string    `json:"id" db:"id"`
	ClientID    string    `json:"client_id" db:"client_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Budget      float64   `json:"budget" db:"budget"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Bid is a freelancer's offer on a project
type Bid struct {
	ID           string    `json:"id" db:"id"`
	ProjectID    string    `json:"project_id" db:"project_id"`
	FreelancerID string    `json:"freelancer_id" db:"freelancer_id"`
	Amount       float64   `json:"amount" db:"amount"`
	Proposal     string    `json:"proposal" db:"proposal"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Payment is money moved from a payer, optionally against a project
type Payment struct {
	ID        string    `json:"id" db:"id"`
	PayerID   string    `json:"payer_id" db:"payer_id"`
	PayeeID   *string   `json:"payee_id,omitempty" db:"payee_id"`
	ProjectID *string   `json:"project_id,omitempty" db:"project_id"`
	Amount    float64   `json:"amount" db:"amount"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is a direct message between two users
type Message struct {
	ID          string    `json:"id" db:"id"`
	SenderID    string    `json:"sender_id" db:"sender_id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	Body        string    `json:"body" db:"body"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
