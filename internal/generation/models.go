package generation

import "time"

type Status string

const (
	StatusGenerating     Status = "generating"
	StatusStreaming      Status = "streaming"
	StatusPublishing     Status = "publishing"
	StatusDone           Status = "done"
	StatusFailed         Status = "failed"
	StatusPublishFailed  Status = "publish_failed"
	StatusPublishPending Status = "publish_pending"
)

// Generation is the local ledger row for one RequestId. It is a record of what
// happened, not the artifact itself; the store owns that once persisted.
type Generation struct {
	ID        string `gorm:"primaryKey;size:26"` // ULID
	RequestID string `gorm:"type:varchar(36);uniqueIndex;not null"`

	UserID uint64 `gorm:"index;not null"`
	NodeID int64  `gorm:"not null"`
	Kind   string `gorm:"type:varchar(16);not null"`
	Stream bool   `gorm:"not null"`

	Status  Status `gorm:"type:varchar(16);index;not null"`
	Partial bool   `gorm:"not null;default:false"`

	ModelName string `gorm:"type:varchar(100)"`
	TokensIn  int
	TokensOut int

	// Filled when the store accepted the artifact
	ArtifactID *int64

	// Kept only while a publish is pending so the worker can replay it
	Prompt   *string `gorm:"type:text"`
	Response *string `gorm:"type:text"`

	PublishAttempts int
	Error           *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Generation) TableName() string { return "ai_generations" }
