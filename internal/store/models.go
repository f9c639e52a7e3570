package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Team struct {
	TeamID    string
	Name      string
	CreatedAt time.Time
}

type User struct {
	UserID      string
	TeamID      *string
	Email       *string
	DisplayName *string
	CreatedAt   time.Time
}

type UsageEvent struct {
	ID         uuid.UUID
	EventID    string
	UserID     string
	Scope      string
	Requests   int32
	Model      *string
	OccurredAt time.Time
	RecordedAt time.Time
}

// LimitSet is one level of the limit hierarchy. Nil fields inherit from the
// next level down.
type LimitSet struct {
	DailyLimit        *int32
	MonthlyLimit      *int32
	WarningThreshold  *float64
	CriticalThreshold *float64
	UpdatedBy         *string
	UpdatedAt         time.Time
}

type UserLimitOverride struct {
	UserID string
	LimitSet
}

type TeamLimitOverride struct {
	TeamID string
	LimitSet
}

type LimitDefaults struct {
	DailyLimit        int32
	MonthlyLimit      int32
	WarningThreshold  float64
	CriticalThreshold float64
	UpdatedBy         *string
	UpdatedAt         time.Time
}

type BlockingStatus struct {
	UserID         string
	IsBlocked      bool
	BlockedAt      *time.Time
	BlockedUntil   *time.Time
	AdminProtected bool
	BlockReason    *string
	BlockedBy      *string
	UpdatedAt      time.Time
}

type AuditEntry struct {
	ID             uuid.UUID
	UserID         string
	Operation      string
	Reason         string
	PerformedBy    string
	PreviousStatus string
	NewStatus      string
	UsageCount     int32
	UsageLimit     int32
	UsagePct       decimal.Decimal
	PolicyUpdated  bool
	Notified       bool
	CreatedAt      time.Time
}

type AdminKey struct {
	ID         uuid.UUID
	Name       string
	Prefix     string
	SecretHash string
	Disabled   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
