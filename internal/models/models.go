package models

import (
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

func ValidAnalysisStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type CallRecord struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	BiztelID            *string   `json:"biztel_id"`
	RequestID           *string   `json:"request_id"`
	EventDatetime       time.Time `json:"event_datetime"`
	CallCenterName      *string   `json:"call_center_name"`
	CallCenterExtension *string   `json:"call_center_extension"`
	BusinessLabel       *string   `json:"business_label"`
	OperatorID          *string   `json:"operator_id"`
	OperationFlowID     *string   `json:"operation_flow_id"`
	InquiryCategory     *string   `json:"inquiry_category"`
	EventType           *string   `json:"event_type"`
	CallerNumber        *string   `json:"caller_number"`
	CalleeNumber        *string   `json:"callee_number"`
	WaitTimeSeconds     *int      `json:"wait_time_seconds"`
	TalkTimeSeconds     *int      `json:"talk_time_seconds"`
	AudioFilePath       *string   `json:"audio_file_path"`
	AnalysisStatus      string    `json:"analysis_status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (c CallRecord) HasAudio() bool {
	return c.AudioFilePath != nil && *c.AudioFilePath != ""
}

type AnalysisResult struct {
	ID                string          `json:"id"`
	CallRecordID      string          `json:"call_record_id"`
	Transcript        string          `json:"transcript"`
	FlowCompliance    *bool           `json:"flow_compliance"`
	ComplianceDetails json.RawMessage `json:"compliance_details"`
	OverallScore      *float64        `json:"overall_score"`
	QualityDetails    json.RawMessage `json:"quality_details"`
	FillersCount      int             `json:"fillers_count"`
	SilenceDuration   float64         `json:"silence_duration"`
	Summary           *string         `json:"summary"`
	SentimentScore    *float64        `json:"sentiment_score"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// EmotionSample is one time-aligned emotion prediction for an analysis.
// Timestamp is the offset in seconds from the start of the recording.
type EmotionSample struct {
	ID          string             `json:"id"`
	AnalysisID  string             `json:"analysis_id"`
	Timestamp   float64            `json:"timestamp"`
	EmotionType string             `json:"emotion_type"`
	Confidence  float64            `json:"confidence"`
	Emotions    map[string]float64 `json:"emotions"`
	CreatedAt   time.Time          `json:"created_at"`
}

type OperationFlow struct {
	ID                     string          `json:"id"`
	TenantID               string          `json:"tenant_id"`
	Name                   string          `json:"name"`
	ClassificationCriteria *string         `json:"classification_criteria"`
	FlowDefinition         json.RawMessage `json:"flow_definition"`
	IsActive               bool            `json:"is_active"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

type Operator struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	BiztelOperatorID *string   `json:"biztel_operator_id"`
	Name             string    `json:"name"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

type Tenant struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	BiztelAPIKey    *string    `json:"-"`
	BiztelAPISecret *string    `json:"-"`
	BiztelBaseURL   *string    `json:"biztel_base_url"`
	IsActive        bool       `json:"is_active"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
}

func (t Tenant) HasBiztelCredentials() bool {
	return t.BiztelAPIKey != nil && *t.BiztelAPIKey != "" && t.BiztelBaseURL != nil && *t.BiztelBaseURL != ""
}

const (
	PromptQualityScore       = "quality_score"
	PromptSummary            = "summary"
	PromptEmotion            = "emotion"
	PromptFlowClassification = "flow_classification"
	PromptFlowCompliance     = "flow_compliance"
	PromptCustom             = "custom"
)

func ValidPromptType(s string) bool {
	switch s {
	case PromptQualityScore, PromptSummary, PromptEmotion, PromptFlowClassification, PromptFlowCompliance, PromptCustom:
		return true
	}
	return false
}

type AnalysisPrompt struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	PromptType string    `json:"prompt_type"`
	PromptText string    `json:"prompt_text"`
	IsActive   bool      `json:"is_active"`
	IsDefault  bool      `json:"is_default"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

type SyncRun struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Summary    json.RawMessage `json:"summary"`
}
