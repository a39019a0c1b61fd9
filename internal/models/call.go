package models

// CallStatus is the provider-reported state of a placed voice call.
type CallStatus struct {
	SID        string `json:"sid"`
	Status     string `json:"status"`
	Duration   string `json:"duration,omitempty"`
	AnsweredBy string `json:"answered_by,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}
