package biztel

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventConnect         EventType = "CONNECT"
	EventCompleteCaller  EventType = "COMPLETECALLER"
	EventCompleteAgent   EventType = "COMPLETEAGENT"
	EventAbandon         EventType = "ABANDON"
	EventExitWithTimeout EventType = "EXITWITHTIMEOUT"
)

// CompletedEvents is the filter used when the caller does not pass one.
var CompletedEvents = []EventType{EventCompleteCaller, EventCompleteAgent}

type ContentType string

const (
	ContentMonaural ContentType = "monaural"
	ContentLeft     ContentType = "left"
	ContentRight    ContentType = "right"
)

const timeLayout = "2006-01-02 15:04:05"

type CallHistoryRecord struct {
	RequestID    string
	StartTime    time.Time
	CallerID     string
	CalledID     string
	HoldTime     *int
	CallTime     *int
	AccountID    string
	AccountName  string
	QueueID      *int
	QueueName    string
	QueueExten   string
	BusinessName string
	Event        string
	HasRecording bool
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexInt accepts a JSON number, a numeric string or null. Anything else is
// treated as absent.
type flexInt struct {
	v  int
	ok bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var fs flexString
	if err := fs.UnmarshalJSON(b); err != nil {
		return err
	}
	s := strings.TrimSpace(string(fs))
	if s == "" {
		*f = flexInt{}
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt{v: n, ok: true}
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt{v: int(x), ok: true}
		return nil
	}
	*f = flexInt{}
	return nil
}

func (f flexInt) ptr() *int {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

type rawRecord struct {
	RequestID    flexString `json:"request_id"`
	StartTime    flexString `json:"start_time"`
	CallerID     flexString `json:"caller_id"`
	CalledID     flexString `json:"called_id"`
	HoldTime     flexInt    `json:"hold_time"`
	CallTime     flexInt    `json:"call_time"`
	AccountID    flexString `json:"account_id"`
	AccountName  flexString `json:"account_name"`
	QueueID      flexInt    `json:"queue_id"`
	QueueName    flexString `json:"queue_name"`
	QueueExten   flexString `json:"queue_exten"`
	BusinessName flexString `json:"business_name"`
	Event        flexString `json:"event"`
	MonitorLogs  flexInt    `json:"monitor_logs"`
}

func (r rawRecord) toRecord(loc *time.Location) CallHistoryRecord {
	accountID := string(r.AccountID)
	if accountID == "0" {
		accountID = ""
	}
	return CallHistoryRecord{
		RequestID:    string(r.RequestID),
		StartTime:    ParseTime(string(r.StartTime), loc),
		CallerID:     string(r.CallerID),
		CalledID:     string(r.CalledID),
		HoldTime:     r.HoldTime.ptr(),
		CallTime:     r.CallTime.ptr(),
		AccountID:    accountID,
		AccountName:  string(r.AccountName),
		QueueID:      r.QueueID.ptr(),
		QueueName:    string(r.QueueName),
		QueueExten:   string(r.QueueExten),
		BusinessName: string(r.BusinessName),
		Event:        string(r.Event),
		HasRecording: r.MonitorLogs.ok && r.MonitorLogs.v == 1,
	}
}

// ParseTime parses provider timestamps ("2006-01-02 15:04:05" or ISO 8601,
// with or without zone). Zoneless values are read in loc. Unparseable input
// returns the zero time.
func ParseTime(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeHistory accepts both {"results": [...]} and a bare array.
func decodeHistory(body []byte, loc *time.Location) ([]CallHistoryRecord, error) {
	body = bytes.TrimSpace(body)
	var items []rawRecord
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	} else {
		var env struct {
			Results []rawRecord `json:"results"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		items = env.Results
	}

	out := make([]CallHistoryRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.toRecord(loc))
	}
	return out, nil
}
