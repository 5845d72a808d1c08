package model

import (
	"encoding/json"
	"fmt"
)

// WakeUpSchedule is one wake-up/sleep entry. ID is empty for an entry that
// has not been created yet.
type WakeUpSchedule struct {
	ID             string    `json:"id,omitempty"`
	Enabled        bool      `json:"enabled"`
	OnTimeMinutes  int       `json:"onTimeMinutes"`
	OffTimeMinutes int       `json:"offTimeMinutes"`
	SteamBoiler    bool      `json:"steamBoiler"`
	Days           []WeekDay `json:"days"`
}

// Validate checks minutes-of-day bounds.
func (s WakeUpSchedule) Validate() error {
	if s.OnTimeMinutes < 0 || s.OnTimeMinutes >= 24*60 {
		return fmt.Errorf("%w: onTimeMinutes %d", ErrMalformed, s.OnTimeMinutes)
	}
	if s.OffTimeMinutes < 0 || s.OffTimeMinutes >= 24*60 {
		return fmt.Errorf("%w: offTimeMinutes %d", ErrMalformed, s.OffTimeMinutes)
	}
	return nil
}

// OnTime renders the start as HH:MM.
func (s WakeUpSchedule) OnTime() string { return minutesToClock(s.OnTimeMinutes) }

// OffTime renders the end as HH:MM.
func (s WakeUpSchedule) OffTime() string { return minutesToClock(s.OffTimeMinutes) }

func minutesToClock(m int) string { return fmt.Sprintf("%02d:%02d", m/60, m%60) }

// ClockToMinutes parses HH:MM into minutes past midnight. "24:00" is
// accepted as midnight because the legacy API reports it that way.
func ClockToMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: time %q", ErrMalformed, s)
	}
	if h == 24 && m == 0 {
		return 0, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: time %q", ErrMalformed, s)
	}
	return h*60 + m, nil
}

// Schedules is the ordered schedule list with an id index kept in sync.
// Ids are unique: Set replaces an existing entry in place.
type Schedules struct {
	list []WakeUpSchedule
	byID map[string]int
}

// NewSchedules builds a collection, collapsing duplicate ids onto the first
// position with the last value.
func NewSchedules(entries ...WakeUpSchedule) *Schedules {
	s := &Schedules{}
	for _, e := range entries {
		s.Set(e)
	}
	return s
}

// Len returns the number of entries.
func (s *Schedules) Len() int {
	if s == nil {
		return 0
	}
	return len(s.list)
}

// List returns a copy in vendor order.
func (s *Schedules) List() []WakeUpSchedule {
	if s == nil {
		return nil
	}
	out := make([]WakeUpSchedule, len(s.list))
	for i, e := range s.list {
		e.Days = append([]WeekDay(nil), e.Days...)
		out[i] = e
	}
	return out
}

// Get looks an entry up by id.
func (s *Schedules) Get(id string) (WakeUpSchedule, bool) {
	if s == nil || id == "" {
		return WakeUpSchedule{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return WakeUpSchedule{}, false
	}
	return s.list[i], true
}

// Set inserts or replaces an entry.
func (s *Schedules) Set(e WakeUpSchedule) {
	if s.byID == nil {
		s.byID = make(map[string]int)
	}
	if e.ID != "" {
		if i, ok := s.byID[e.ID]; ok {
			s.list[i] = e
			return
		}
		s.byID[e.ID] = len(s.list)
	}
	s.list = append(s.list, e)
}

// Delete removes an entry by id and reports whether it existed.
func (s *Schedules) Delete(id string) bool {
	if s == nil {
		return false
	}
	i, ok := s.byID[id]
	if !ok {
		return false
	}
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.reindex()
	return true
}

// Clone returns an independent copy.
func (s *Schedules) Clone() *Schedules {
	if s == nil {
		return nil
	}
	return NewSchedules(s.List()...)
}

func (s *Schedules) reindex() {
	s.byID = make(map[string]int, len(s.list))
	for i, e := range s.list {
		if e.ID != "" {
			s.byID[e.ID] = i
		}
	}
}

func (s *Schedules) MarshalJSON() ([]byte, error) {
	if s == nil || s.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.list)
}

func (s *Schedules) UnmarshalJSON(b []byte) error {
	var entries []WakeUpSchedule
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	*s = Schedules{}
	for _, e := range entries {
		s.Set(e)
	}
	if s.list == nil {
		s.list = []WakeUpSchedule{}
	}
	return nil
}

// SmartWakeUpSleep holds smart standby and the wake-up schedules.
type SmartWakeUpSleep struct {
	SmartStandByEnabled     bool             `json:"smartStandByEnabled"`
	SmartStandByMinutes     int              `json:"smartStandByMinutes"`
	SmartStandByMinutesMin  int              `json:"smartStandByMinutesMin"`
	SmartStandByMinutesMax  int              `json:"smartStandByMinutesMax"`
	SmartStandByMinutesStep int              `json:"smartStandByMinutesStep"`
	SmartStandByAfter       SmartStandByType `json:"smartStandByAfter"`
	Schedules               *Schedules       `json:"schedules"`
}

// Scheduling is the GET /things/{sn}/scheduling response.
type Scheduling struct {
	Thing
	SmartWakeUpSleepSupported bool             `json:"smartWakeUpSleepSupported"`
	SmartWakeUpSleep          SmartWakeUpSleep `json:"smartWakeUpSleep"`
}
