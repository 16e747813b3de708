package domain

// Backend response statuses.
const (
	StatusTextReceived   = "text_received"
	StatusRateLimited    = "rate_limited"
	StatusError          = "error"
	StatusScriptReceived = "script_received"
	StatusDocProcessed   = "doc_processed"
)

// Response is the backend's decision about a relayed message. The concrete
// type is one of TextReceived, RateLimited, BackendError, ScriptReceived,
// DocProcessed or Unrecognized.
type Response interface {
	Status() string
	Recipient() string
	sealed()
}

// UserStats is the backend's usage snapshot for a user. Remaining counts are
// taken as reported.
type UserStats struct {
	DailyUsed        int64  `json:"daily_used"`
	DailyTotal       int64  `json:"daily_total"`
	DailyRemaining   int64  `json:"daily_remaining"`
	MonthlyUsed      int64  `json:"monthly_used"`
	MonthlyTotal     int64  `json:"monthly_total"`
	MonthlyRemaining int64  `json:"monthly_remaining"`
	IsPremium        bool   `json:"is_premium"`
	CreatedAt        string `json:"created_at"`
}

type TextReceived struct {
	UserID  string
	Command string
	Stats   UserStats
}

type RateLimited struct {
	UserID  string
	Message string
}

// BackendError reports a backend-side failure; Message is never shown to users.
type BackendError struct {
	UserID  string
	Message string
}

type ScriptReceived struct {
	UserID  string
	Message string
}

type DocProcessed struct {
	UserID string
	Script string
}

// Unrecognized carries a status this relay does not know how to answer.
type Unrecognized struct {
	Raw    string
	UserID string
}

func (TextReceived) Status() string   { return StatusTextReceived }
func (RateLimited) Status() string    { return StatusRateLimited }
func (BackendError) Status() string   { return StatusError }
func (ScriptReceived) Status() string { return StatusScriptReceived }
func (DocProcessed) Status() string   { return StatusDocProcessed }
func (u Unrecognized) Status() string { return u.Raw }

func (r TextReceived) Recipient() string   { return r.UserID }
func (r RateLimited) Recipient() string    { return r.UserID }
func (r BackendError) Recipient() string   { return r.UserID }
func (r ScriptReceived) Recipient() string { return r.UserID }
func (r DocProcessed) Recipient() string   { return r.UserID }
func (r Unrecognized) Recipient() string   { return r.UserID }

func (TextReceived) sealed()   {}
func (RateLimited) sealed()    {}
func (BackendError) sealed()   {}
func (ScriptReceived) sealed() {}
func (DocProcessed) sealed()   {}
func (Unrecognized) sealed()   {}
