package handlers

import (
	"fmt"
	"strconv"
	"time"
)

// StatusRequest is the input of GET /rate-limit.
type StatusRequest struct {
	Authorization string `doc:"Bearer token of the caller"  header:"Authorization"`
	OperationType string `doc:"Operation kind to report on" example:"import"        query:"operation_type"`
}

// CheckRequest is the input of POST /rate-limit. The body is decoded by the
// handler so malformed JSON and unknown operations get their own error codes.
type CheckRequest struct {
	Authorization string `doc:"Bearer token of the caller" header:"Authorization"`
	RawBody       []byte `contentType:"application/json"`
}

// CheckBody is the JSON body of POST /rate-limit.
type CheckBody struct {
	OperationType string     `json:"operationType"`
	WindowStart   *Instant `json:"windowStart,omitempty"`
}

// Instant is a point in time given either as an RFC 3339 string or as
// epoch milliseconds.
type Instant struct {
	time.Time
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return i.Time.UnmarshalJSON(data)
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("instant %s: %w", data, err)
	}

	i.Time = time.UnixMilli(ms).UTC()

	return nil
}

// DecisionBody reports the caller's allowance.
type DecisionBody struct {
	Allowed           bool      `doc:"Whether the request is within the limit" json:"allowed"`
	RemainingRequests int       `doc:"Admissions left in the window"            json:"remainingRequests"`
	ResetTime         time.Time `doc:"End of the current window"                json:"resetTime"`
}

// DecisionResponse is returned by both GET and POST /rate-limit.
type DecisionResponse struct {
	Limit     int   `header:"X-RateLimit-Limit"`
	Remaining int   `header:"X-RateLimit-Remaining"`
	Reset     int64 `header:"X-RateLimit-Reset"`
	Body      DecisionBody
}
