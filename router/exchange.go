package router

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is one unit of work moving through a route.
type Exchange struct {
	ID           string
	FromEndpoint string
	Created      time.Time
	Message      *Message
}

type Message struct {
	ID      string
	Body    any
	Headers map[string]any
}

// NewExchange creates an exchange originating at the given endpoint URI, with
// fresh exchange and message ids.
func NewExchange(from string) *Exchange {
	return &Exchange{
		ID:           uuid.NewString(),
		FromEndpoint: from,
		Created:      time.Now(),
		Message: &Message{
			ID:      uuid.NewString(),
			Headers: map[string]any{},
		},
	}
}

func (m *Message) HasHeaders() bool { return len(m.Headers) > 0 }

func (m *Message) SetHeader(key string, v any) {
	if m.Headers == nil {
		m.Headers = map[string]any{}
	}
	m.Headers[key] = v
}

// Date is a calendar date header value with no time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string { return d.Time().Format("2006-01-02") }

// TimeOfDay is a wall-clock header value measured from midnight.
type TimeOfDay time.Duration

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()))
}

// Time anchors the time of day on 1970-01-01 UTC.
func (t TimeOfDay) Time() time.Time {
	return time.Unix(0, 0).UTC().Add(time.Duration(t))
}
