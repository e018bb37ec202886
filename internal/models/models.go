package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type AccessLevel string

const (
	AccessPublic     AccessLevel = "public"
	AccessRestricted AccessLevel = "restricted"
	AccessAdmin      AccessLevel = "admin"
)

func (l AccessLevel) Valid() bool {
	switch l {
	case AccessPublic, AccessRestricted, AccessAdmin:
		return true
	}
	return false
}

type JournalStatus string

const (
	JournalActive   JournalStatus = "active"
	JournalInactive JournalStatus = "inactive"
)

type ConfigState string

const (
	ConfigActive  ConfigState = "active"
	ConfigRevoked ConfigState = "revoked"
	ConfigExpired ConfigState = "expired"
)

// HeaderMap is a string->string mapping stored as a JSON column.
type HeaderMap map[string]string

func (m HeaderMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *HeaderMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported header map type %T", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, m)
}

// StringList is a list of strings stored as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported string list type %T", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, l)
}

// Journal is a registered upstream content source reachable through a
// generated proxy path.
type Journal struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"type:varchar(200);not null" json:"name"`
	Slug        string `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Description string `gorm:"type:text" json:"description"`
	BaseURL     string `gorm:"type:varchar(500);not null" json:"base_url"`
	ProxyPath   string `gorm:"type:varchar(100);uniqueIndex;not null" json:"proxy_path"`

	RequiresAuth  bool        `gorm:"not null;default:true" json:"requires_auth"`
	AuthMethod    string      `gorm:"type:varchar(50);default:ip" json:"auth_method"`
	CustomHeaders HeaderMap   `gorm:"type:jsonb" json:"custom_headers"`
	Timeout       int         `gorm:"not null;default:30" json:"timeout"`
	AccessLevel   AccessLevel `gorm:"type:varchar(20);not null;default:public;index" json:"access_level"`

	Status JournalStatus `gorm:"type:varchar(20);not null;default:active;index" json:"status"`

	Publisher    string     `gorm:"type:varchar(200)" json:"publisher"`
	ISSN         string     `gorm:"type:varchar(20)" json:"issn"`
	EISSN        string     `gorm:"type:varchar(20)" json:"e_issn"`
	SubjectAreas StringList `gorm:"type:jsonb" json:"subject_areas"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Journal) TableName() string {
	return "journals"
}

func (j *Journal) IsActive() bool {
	return j.Status == JournalActive
}

// ProxyURL returns the externally visible path for this journal, prefixed
// with the serving host when one is known.
func (j *Journal) ProxyURL(host string) string {
	if host != "" {
		return fmt.Sprintf("http://%s/%s", host, j.ProxyPath)
	}
	return "/" + j.ProxyPath
}

type User struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"type:varchar(30);uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	FirstName    string     `gorm:"type:varchar(100)" json:"first_name"`
	LastName     string     `gorm:"type:varchar(100)" json:"last_name"`
	Department   string     `gorm:"type:varchar(255)" json:"department"`
	IsAdmin      bool       `gorm:"not null;default:false" json:"is_admin"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Caller is the resolved identity attached to a request. A nil UserID means
// the caller is anonymous.
type Caller struct {
	UserID  *uint
	IsAdmin bool
}

func (c Caller) Anonymous() bool {
	return c.UserID == nil
}

// Fingerprint identifies the client side of a proxied session.
type Fingerprint struct {
	IPAddress string
	UserAgent string
	Referer   string
}

// ProxyConfig binds a (journal, caller, client fingerprint) tuple to a live
// proxy route. Rows are never deleted; expired or revoked configs are kept
// for audit with State flipped accordingly.
//
// The partial unique index guarantees at most one active row per
// (journal_id, user_id, ip_address) tuple regardless of how many requests
// race on acquire.
type ProxyConfig struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	JournalID   uint   `gorm:"not null;index;uniqueIndex:ux_live_route,where:state = 'active'" json:"journal_id"`
	UserID      *uint  `gorm:"index;uniqueIndex:ux_live_route" json:"user_id"`
	ConfigName  string `gorm:"type:varchar(100);not null" json:"config_name"`
	HAProxyRule string `gorm:"type:text" json:"-"`

	IPAddress string `gorm:"type:varchar(45);uniqueIndex:ux_live_route" json:"ip_address"`
	UserAgent string `gorm:"type:varchar(500)" json:"user_agent"`
	Referer   string `gorm:"type:varchar(500)" json:"referer"`

	State      ConfigState `gorm:"type:varchar(20);not null;default:active;index" json:"state"`
	ExpiresAt  *time.Time  `gorm:"index" json:"expires_at"`
	LastUsed   *time.Time  `json:"last_used"`
	UsageCount int64       `gorm:"not null;default:0" json:"usage_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProxyConfig) TableName() string {
	return "proxy_configs"
}

func (c *ProxyConfig) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Live reports whether the config may still serve traffic.
func (c *ProxyConfig) Live(now time.Time) bool {
	return c.State == ConfigActive && !c.Expired(now)
}

// AccessLog is an append-only record of a single access decision or proxied
// request. Entries are never mutated after insert.
type AccessLog struct {
	ID            uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        *uint `gorm:"index" json:"user_id"`
	// JournalID is zero for entries recorded before any journal was in
	// play, such as authentication failures at login.
	JournalID     uint  `gorm:"index" json:"journal_id"`
	ProxyConfigID *uint `gorm:"index" json:"proxy_config_id"`

	IPAddress     string `gorm:"type:varchar(45);not null;index" json:"ip_address"`
	UserAgent     string `gorm:"type:varchar(500)" json:"user_agent"`
	Referer       string `gorm:"type:varchar(500)" json:"referer"`
	RequestMethod string `gorm:"type:varchar(10);default:GET" json:"request_method"`
	RequestPath   string `gorm:"type:varchar(500)" json:"request_path"`
	RequestQuery  string `gorm:"type:varchar(1000)" json:"request_query"`

	ResponseStatus int     `gorm:"index" json:"response_status"`
	ResponseSize   int64   `json:"response_size"`
	ResponseTime   float64 `json:"response_time"`

	AuthFailureReason string `gorm:"type:varchar(255)" json:"auth_failure_reason,omitempty"`
	DenialReason      string `gorm:"type:varchar(255)" json:"denial_reason,omitempty"`

	// Caller attribution, copied from the user profile and the geo lookup
	// at record time so reports survive later profile edits.
	Department string `gorm:"type:varchar(255)" json:"department,omitempty"`
	Country    string `gorm:"type:varchar(100)" json:"country,omitempty"`
	Region     string `gorm:"type:varchar(100)" json:"region,omitempty"`
	City       string `gorm:"type:varchar(100)" json:"city,omitempty"`

	SessionID string    `gorm:"type:varchar(100)" json:"session_id"`
	RequestID string    `gorm:"type:varchar(100)" json:"request_id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

// Denied reports whether the entry records a turn-away.
func (e *AccessLog) Denied() bool {
	return e.DenialReason != ""
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
