// Package models holds the documents stored in MongoDB. Every tenant-owned
// document carries user_id.
package models

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/pkg/widget"
)

type User struct {
	ID           string     `bson:"_id" json:"id"`
	Email        string     `bson:"email" json:"email"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	Role         string     `bson:"role" json:"role"`
	IsActive     bool       `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}

type Profile struct {
	UserID       string    `bson:"_id" json:"user_id"`
	FullName     string    `bson:"full_name" json:"full_name"`
	Company      string    `bson:"company" json:"company"`
	Plan         string    `bson:"plan" json:"plan"`
	MinutesQuota int       `bson:"minutes_quota" json:"minutes_quota"`
	MinutesUsed  int       `bson:"minutes_used" json:"minutes_used"`
	PeriodStart  time.Time `bson:"period_start" json:"period_start"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// MinutesRemaining never goes negative.
func (p Profile) MinutesRemaining() int {
	if r := p.MinutesQuota - p.MinutesUsed; r > 0 {
		return r
	}
	return 0
}

type Agent struct {
	ID             string    `bson:"_id" json:"id"`
	UserID         string    `bson:"user_id" json:"user_id"`
	VendorAgentID  string    `bson:"vendor_agent_id" json:"vendor_agent_id"`
	Name           string    `bson:"name" json:"name"`
	FirstMessage   string    `bson:"first_message" json:"first_message"`
	SystemPrompt   string    `bson:"system_prompt" json:"system_prompt"`
	Language       string    `bson:"language" json:"language"`
	VoiceID        string    `bson:"voice_id" json:"voice_id"`
	LLM            string    `bson:"llm" json:"llm"`
	BookingEnabled bool      `bson:"booking_enabled" json:"booking_enabled"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

const (
	SourceFile = "file"
	SourceURL  = "url"
)

type KnowledgeDocument struct {
	ID               string    `bson:"_id" json:"id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	AgentID          string    `bson:"agent_id" json:"agent_id"`
	VendorDocumentID string    `bson:"vendor_document_id" json:"vendor_document_id"`
	Name             string    `bson:"name" json:"name"`
	Source           string    `bson:"source" json:"source"`
	URL              string    `bson:"url,omitempty" json:"url,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

type Conversation struct {
	ID                   string    `bson:"_id" json:"id"`
	UserID               string    `bson:"user_id" json:"user_id"`
	AgentID              string    `bson:"agent_id" json:"agent_id"`
	VendorConversationID string    `bson:"vendor_conversation_id" json:"vendor_conversation_id"`
	Status               string    `bson:"status" json:"status"`
	StartedAt            time.Time `bson:"started_at" json:"started_at"`
	DurationSecs         int       `bson:"duration_secs" json:"duration_secs"`
	Summary              string    `bson:"summary" json:"summary"`
	Successful           string    `bson:"successful" json:"successful"`
	CallerNumber         string    `bson:"caller_number" json:"caller_number"`
	CampaignID           string    `bson:"campaign_id,omitempty" json:"campaign_id,omitempty"`
	CampaignContactID    string    `bson:"campaign_contact_id,omitempty" json:"campaign_contact_id,omitempty"`
	MinutesBilled        int       `bson:"minutes_billed" json:"minutes_billed"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

type Message struct {
	ID             string `bson:"_id" json:"id"`
	UserID         string `bson:"user_id" json:"-"`
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	Seq            int    `bson:"seq" json:"seq"`
	Role           string `bson:"role" json:"role"`
	Text           string `bson:"text" json:"text"`
	TimeInCallSecs int    `bson:"time_in_call_secs" json:"time_in_call_secs"`
}

const (
	CampaignDraft     = "draft"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

type CampaignGroup struct {
	ID            string     `bson:"_id" json:"id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	AgentID       string     `bson:"agent_id" json:"agent_id"`
	PhoneNumberID string     `bson:"phone_number_id" json:"phone_number_id"`
	Name          string     `bson:"name" json:"name"`
	Status        string     `bson:"status" json:"status"`
	WindowStart   string     `bson:"window_start" json:"window_start"`
	WindowEnd     string     `bson:"window_end" json:"window_end"`
	Days          []int      `bson:"days" json:"days"`
	Timezone      string     `bson:"timezone" json:"timezone"`
	MaxRetries    int        `bson:"max_retries" json:"max_retries"`
	RetryGapMin   int        `bson:"retry_gap_min" json:"retry_gap_min"`
	MaxConcurrent int        `bson:"max_concurrent" json:"max_concurrent"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
	StartedAt     *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

const (
	ContactPending   = "pending"
	ContactCalling   = "calling"
	ContactCompleted = "completed"
	ContactFailed    = "failed"
	ContactSkipped   = "skipped"
)

type Contact struct {
	ID             string            `bson:"_id" json:"id"`
	UserID         string            `bson:"user_id" json:"user_id"`
	CampaignID     string            `bson:"campaign_id" json:"campaign_id"`
	Phone          string            `bson:"phone" json:"phone"`
	Name           string            `bson:"name" json:"name"`
	Variables      map[string]string `bson:"variables,omitempty" json:"variables,omitempty"`
	Status         string            `bson:"status" json:"status"`
	Attempts       int               `bson:"attempts" json:"attempts"`
	NextAttemptAt  *time.Time        `bson:"next_attempt_at,omitempty" json:"next_attempt_at,omitempty"`
	LastAttemptAt  *time.Time        `bson:"last_attempt_at,omitempty" json:"last_attempt_at,omitempty"`
	ConversationID string            `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Disposition    string            `bson:"disposition,omitempty" json:"disposition,omitempty"`
	LastError      string            `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt      time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at" json:"updated_at"`
}

// CampaignStats counts contacts per status.
type CampaignStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Calling   int `json:"calling"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type PhoneNumber struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	Number        string    `bson:"number" json:"number"`
	TwilioSID     string    `bson:"twilio_sid" json:"twilio_sid"`
	VendorPhoneID string    `bson:"vendor_phone_id" json:"vendor_phone_id"`
	AgentID       string    `bson:"agent_id,omitempty" json:"agent_id,omitempty"`
	Label         string    `bson:"label" json:"label"`
	Country       string    `bson:"country" json:"country"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

type Widget struct {
	ID             string       `bson:"_id" json:"id"`
	UserID         string       `bson:"user_id" json:"user_id"`
	AgentID        string       `bson:"agent_id" json:"agent_id"`
	Name           string       `bson:"name" json:"name"`
	AllowedDomains []string     `bson:"allowed_domains" json:"allowed_domains"`
	Theme          widget.Theme `bson:"theme" json:"theme"`
	Enabled        bool         `bson:"enabled" json:"enabled"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updated_at"`
}

// Integration tokens never leave the server.
type Integration struct {
	ID           string    `bson:"_id" json:"id"`
	UserID       string    `bson:"user_id" json:"user_id"`
	Provider     string    `bson:"provider" json:"provider"`
	AccessToken  string    `bson:"access_token" json:"-"`
	RefreshToken string    `bson:"refresh_token" json:"-"`
	TokenType    string    `bson:"token_type" json:"-"`
	Expiry       time.Time `bson:"expiry" json:"expiry"`
	Scope        string    `bson:"scope" json:"scope"`
	AccountEmail string    `bson:"account_email" json:"account_email"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

func (i Integration) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		TokenType:    i.TokenType,
		Expiry:       i.Expiry,
	}
}

type SMSTemplate struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Name      string    `bson:"name" json:"name"`
	Body      string    `bson:"body" json:"body"`
	Variables []string  `bson:"variables" json:"variables"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type SMSMessage struct {
	ID         string    `bson:"_id" json:"id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	To         string    `bson:"to" json:"to"`
	From       string    `bson:"from" json:"from"`
	Body       string    `bson:"body" json:"body"`
	TemplateID string    `bson:"template_id,omitempty" json:"template_id,omitempty"`
	TwilioSID  string    `bson:"twilio_sid" json:"twilio_sid"`
	Status     string    `bson:"status" json:"status"`
	Error      string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

const (
	AppointmentSourceSync  = "calendar_sync"
	AppointmentSourceAgent = "voice_agent"
)

type Appointment struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	AgentID       string    `bson:"agent_id,omitempty" json:"agent_id,omitempty"`
	Provider      string    `bson:"provider" json:"provider"`
	ExternalID    string    `bson:"external_id" json:"external_id"`
	Title         string    `bson:"title" json:"title"`
	Start         time.Time `bson:"start" json:"start"`
	End           time.Time `bson:"end" json:"end"`
	AttendeeName  string    `bson:"attendee_name,omitempty" json:"attendee_name,omitempty"`
	AttendeePhone string    `bson:"attendee_phone,omitempty" json:"attendee_phone,omitempty"`
	AttendeeEmail string    `bson:"attendee_email,omitempty" json:"attendee_email,omitempty"`
	Source        string    `bson:"source" json:"source"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}
