package schema

import "time"

// AIReport is a generated summary of a user's recent activity.
type AIReport struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Summary      string    `json:"summary"`
	Highlights   []string  `json:"highlights"`
	Suggestions  []string  `json:"suggestions"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *AIReport) Validate() error {
	if r.UserID == "" {
		return invalid("user_id", "required")
	}
	if r.Summary == "" {
		return invalid("summary", "required")
	}
	if !r.PeriodEnd.After(r.PeriodStart) {
		return invalid("period_end", "must be after period_start")
	}
	return nil
}
