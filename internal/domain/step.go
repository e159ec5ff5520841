package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step is one timed message in a campaign's sequence.
type Step struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	StepNumber int    `json:"step_number" db:"step_number"`
	DelayDays  int    `json:"delay_days" db:"delay_days"`
	DelayHours int    `json:"delay_hours" db:"delay_hours"`
	IsActive   bool   `json:"is_active" db:"is_active"`

	// SendTime pins the clock time of the send. Nil leaves the time of day
	// produced by the delay untouched.
	SendTime *TimeOfDay `json:"send_time,omitempty" db:"send_time"`
	// SendDays holds ISO weekday numbers (1=Monday .. 7=Sunday). Empty
	// means every day is allowed.
	SendDays []int `json:"send_days,omitempty" db:"send_days"`

	SendConditions RuleSet `json:"send_conditions" db:"send_conditions"`
	SkipConditions RuleSet `json:"skip_conditions" db:"skip_conditions"`

	Subject   string `json:"subject" db:"subject"`
	HTMLBody  string `json:"html_body" db:"html_body"`
	TextBody  string `json:"text_body" db:"text_body"`
	FromName  string `json:"from_name" db:"from_name"`
	FromEmail string `json:"from_email" db:"from_email"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UnmarshalJSON treats a missing is_active as true.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	raw := struct {
		*alias
		IsActive *bool `json:"is_active"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.IsActive = raw.IsActive == nil || *raw.IsActive
	return nil
}

// Validate checks the structural constraints on a step.
func (s *Step) Validate() error {
	if s.StepNumber < 1 {
		return fmt.Errorf("step_number must be >= 1, got %d", s.StepNumber)
	}
	if s.DelayDays < 0 || s.DelayHours < 0 {
		return fmt.Errorf("step %d: delays must be non-negative", s.StepNumber)
	}
	for _, d := range s.SendDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("step %d: send day %d out of range 1..7", s.StepNumber, d)
		}
	}
	return nil
}

// AllowsWeekday reports whether the step may fire on the given ISO weekday.
func (s *Step) AllowsWeekday(isoDay int) bool {
	if len(s.SendDays) == 0 {
		return true
	}
	for _, d := range s.SendDays {
		if d == isoDay {
			return true
		}
	}
	return false
}

// ISOWeekday maps t's weekday onto 1=Monday .. 7=Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		vals[i] = n
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at this time of day on day's calendar date, in
// day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MatchMode selects how the rules of a RuleSet combine.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Rule compares one recipient attribute against a value.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// RuleSet is a list of rules combined with all/any semantics.
type RuleSet struct {
	Match MatchMode `json:"match,omitempty"`
	Rules []Rule    `json:"rules,omitempty"`
}

// IsEmpty reports whether the set has no rules.
func (rs RuleSet) IsEmpty() bool { return len(rs.Rules) == 0 }
