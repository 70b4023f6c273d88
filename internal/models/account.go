package models

import (
	"time"

	"github.com/google/uuid"
)

type AccountKind string

const (
	AccountKindIndividual AccountKind = "INDIVIDUAL"
	AccountKindAgency     AccountKind = "AGENCY"
)

type AccountStatus string

const (
	AccountStatusCreated  AccountStatus = "CREATED"
	AccountStatusVerified AccountStatus = "VERIFIED"
	AccountStatusActive   AccountStatus = "ACTIVE"
)

// Profile is the role an account acts under for a request.
type Profile string

const (
	ProfileClient Profile = "CLIENT"
	ProfileWorker Profile = "WORKER"
	ProfileAgency Profile = "AGENCY"
	ProfileAdmin  Profile = "ADMIN"
)

type Account struct {
	ID               uuid.UUID     `json:"id"`
	Email            string        `json:"email"`
	PasswordHash     string        `json:"-"`
	DisplayName      string        `json:"display_name"`
	Kind             AccountKind   `json:"kind"`
	Status           AccountStatus `json:"status"`
	EmailVerified    bool          `json:"email_verified"`
	KYCVerified      bool          `json:"kyc_verified"`
	HasClientProfile bool          `json:"has_client_profile"`
	HasWorkerProfile bool          `json:"has_worker_profile"`
	IsAdmin          bool          `json:"is_admin"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasProfile reports whether the account may act under p.
func (a *Account) HasProfile(p Profile) bool {
	switch p {
	case ProfileClient:
		return a.HasClientProfile
	case ProfileWorker:
		return a.HasWorkerProfile && a.Kind == AccountKindIndividual
	case ProfileAgency:
		return a.Kind == AccountKindAgency
	case ProfileAdmin:
		return a.IsAdmin
	}
	return false
}

// Actor is an (account, profile) pair. Job actions are authorized on actors, never on bare accounts.
type Actor struct {
	AccountID uuid.UUID `json:"account_id"`
	Profile   Profile   `json:"profile"`
}

// AgencyEmployee is dispatched by an agency to a job. Employees hold no wallet.
type AgencyEmployee struct {
	ID        uuid.UUID `json:"id"`
	AgencyID  uuid.UUID `json:"agency_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Category carries the minimum rate enforced on budget updates.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	MinimumRate Money  `json:"minimum_rate"`
}
