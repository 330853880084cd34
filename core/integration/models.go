package integration

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// Platform identifies a supported external learning platform.
type Platform string

const (
	PlatformCoursera    Platform = "coursera"
	PlatformUdemy       Platform = "udemy"
	PlatformPluralsight Platform = "pluralsight"
)

var AllPlatforms = []Platform{PlatformCoursera, PlatformUdemy, PlatformPluralsight}

func (p Platform) String() string { return string(p) }

func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// SyncStatus of a PlatformConfig.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
)

// ProgressStatus of an ExternalProgress row.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// Credentials is an opaque vendor credential map. Required keys are
// vendor-specific and validated by each adapter.
type Credentials map[string]string

// Has reports whether all keys are present and non-blank.
func (c Credentials) Has(keys ...string) bool {
	for _, k := range keys {
		if strings.TrimSpace(c[k]) == "" {
			return false
		}
	}
	return true
}

func (c Credentials) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *Credentials) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*c = Credentials{}
		return nil
	default:
		return errors.Errorf("scanning credentials: unexpected type %T", src)
	}
	return json.Unmarshal(data, c)
}

// PlatformConfig holds an organization's integration settings for one platform.
// At most one config exists per (org, platform) pair.
type PlatformConfig struct {
	ID               string      `json:"id"`
	OrgID            string      `json:"org_id"`
	Platform         Platform    `json:"platform"`
	IsEnabled        bool        `json:"is_enabled"`
	Credentials      Credentials `json:"-"` // write-only at the API
	SyncIntervalMins int         `json:"sync_interval_mins"`
	LastSyncedAt     null.Time   `json:"last_synced_at"`
	SyncStatus       SyncStatus  `json:"sync_status"`
	LastError        null.String `json:"last_error"`
	CreatedAt        time.Time   `json:"created_at"` // UTC
	UpdatedAt        time.Time   `json:"updated_at"` // UTC
}

// ExternalEnrollment records that a local user is enrolled in a vendor course.
// Identity is the (org, user, platform, course) composite key.
type ExternalEnrollment struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	UserID      string    `json:"user_id"`
	Platform    Platform  `json:"platform"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	EnrolledAt  null.Time `json:"enrolled_at"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// ExternalProgress tracks progress for one ExternalEnrollment (1:1).
type ExternalProgress struct {
	ID             string         `json:"id"`
	EnrollmentID   string         `json:"enrollment_id"`
	Percentage     float64        `json:"percentage"` // clamped to [0,100]
	Status         ProgressStatus `json:"status"`
	CompletedAt    null.Time      `json:"completed_at"`
	MinutesSpent   null.Int       `json:"minutes_spent"`
	LastActivityAt null.Time      `json:"last_activity_at"`
	SyncedAt       time.Time      `json:"synced_at"` // UTC
}

// VendorEnrollment is an adapter's normalized enrollment record. Never
// persisted directly; reconciled into ExternalEnrollment by the Service.
type VendorEnrollment struct {
	CourseID    string
	CourseTitle string
	Email       string
	EnrolledAt  null.Time
}

// VendorProgress is an adapter's normalized progress record.
type VendorProgress struct {
	CourseID       string
	Email          string
	Percentage     float64
	Status         ProgressStatus
	CompletedAt    null.Time
	MinutesSpent   null.Int
	LastActivityAt null.Time
}

// UnifiedProgress is the joined enrollment+progress+profile row exposed for
// dashboard display.
type UnifiedProgress struct {
	UserID         string         `json:"user_id"`
	UserName       string         `json:"user_name"`
	Email          string         `json:"email"`
	Platform       Platform       `json:"platform"`
	CourseID       string         `json:"course_id"`
	CourseTitle    string         `json:"course_title"`
	Percentage     float64        `json:"percentage"`
	Status         ProgressStatus `json:"status"`
	CompletedAt    null.Time      `json:"completed_at"`
	MinutesSpent   null.Int       `json:"minutes_spent"`
	LastActivityAt null.Time      `json:"last_activity_at"`
	SyncedAt       time.Time      `json:"synced_at"`
}

// ProgressFilter applies AND operation on available fields.
// Search does a case-insensitive match on course title or user email.
type ProgressFilter struct {
	OrgID    string `query:"-"`
	Platform string `query:"platform"`
	UserID   string `query:"user_id"`
	Status   string `query:"status"`
	Search   string `query:"search"`
	Limit    int    `query:"limit"`
	Offset   int    `query:"offset"`
}

func (f *ProgressFilter) Clean() {
	f.Platform = core.CleanString(f.Platform, true /* lower */)
	f.Status = core.CleanString(f.Status, true)
	f.Search = core.CleanString(f.Search)
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// NewPlatformConfig contains information needed to save a PlatformConfig.
type NewPlatformConfig struct {
	Platform         string            `json:"platform" validate:"required"`
	IsEnabled        bool              `json:"is_enabled"`
	Credentials      map[string]string `json:"credentials"`
	SyncIntervalMins int               `json:"sync_interval_mins" validate:"omitempty,gte=15,lte=10080"`
}

func (npc *NewPlatformConfig) Validate() error {
	npc.Platform = core.CleanString(npc.Platform, true /* lower */)
	if err := core.Validate.Struct(npc); err != nil {
		return err
	}
	if !Platform(npc.Platform).Valid() {
		err := NewUnsupportedPlatformError(npc.Platform)
		return core.NewValidationError(err, core.FieldError{Field: "platform", Error: err.Error()})
	}
	return nil
}

// SyncResult reports how many rows one sync pass wrote.
type SyncResult struct {
	EnrollmentsSynced int `json:"enrollments_synced"`
	ProgressSynced    int `json:"progress_synced"`
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ResponseTimeMs int    `json:"response_time_ms"`
}

// ClampPercent clamps a completion percentage to [0,100].
func ClampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// FractionToPercent converts a fractional completion ratio (0..1) to a
// clamped percentage. Some vendors report 1.0 for a completed course.
func FractionToPercent(ratio float64) float64 {
	return ClampPercent(ratio * 100)
}

// ProgressStatusOf derives the progress status. A course counts as completed
// when the percentage reaches 100 or the vendor stamped a completion time;
// vendors are inconsistent about reporting 100% at completion.
func ProgressStatusOf(pct float64, completedAt null.Time) ProgressStatus {
	if pct >= 100 || completedAt.Valid {
		return ProgressCompleted
	}
	return ProgressInProgress
}

// ReconKey builds the case-insensitive (email, course) reconciliation key.
// Email is the only identity shared with vendors; their user ids are unstable.
func ReconKey(email, courseID string) string {
	return core.CleanString(email, true /* lower */) + ":" + courseID
}
