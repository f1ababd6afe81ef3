package domain

import "time"

type WritingStatus string

const (
	StatusPending    WritingStatus = "pending"
	StatusProcessing WritingStatus = "processing"
	StatusCompleted  WritingStatus = "completed"
	StatusFailed     WritingStatus = "failed"
)

// Settled reports whether the backend has finished with the writing.
func (s WritingStatus) Settled() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorAnnotation is one grammar error flagged in a writing's original text.
// PositionStart/PositionEnd are advisory; highlighting re-derives positions
// by searching for Original.
type ErrorAnnotation struct {
	ID            int64  `json:"id"`
	ErrorType     string `json:"error_type"`
	Original      string `json:"original"`
	Correction    string `json:"correction"`
	Explanation   string `json:"explanation"`
	PositionStart *int   `json:"position_start,omitempty"`
	PositionEnd   *int   `json:"position_end,omitempty"`
}

// Writing is one uploaded image and its processing result.
type Writing struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id,omitempty"`
	Title         *string           `json:"title"`
	OriginalText  *string           `json:"original_text"`
	CorrectedText *string           `json:"corrected_text"`
	Comment       *string           `json:"comment"`
	ImageURL      *string           `json:"image_url"`
	Status        WritingStatus     `json:"status"`
	ErrorCount    int               `json:"error_count"`
	Errors        []ErrorAnnotation `json:"grammar_errors,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DisplayTitle returns the title or "Untitled" when none was set.
func (w Writing) DisplayTitle() string {
	if w.Title == nil || *w.Title == "" {
		return "Untitled"
	}
	return *w.Title
}

// ListMeta is the pagination block returned with a list of writings.
type ListMeta struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Credits is the account's remaining and consumed processing credit.
type Credits struct {
	TotalCredits float64 `json:"total_credits"`
	TotalUsage   float64 `json:"total_usage"`
}

// UsagePercent returns the consumed share of all credits in [0,100].
func (c Credits) UsagePercent() float64 {
	total := c.TotalCredits + c.TotalUsage
	if total <= 0 {
		return 0
	}
	return c.TotalUsage / total * 100
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
