package core

import "time"

// LogLine is one newly observed line of a remote log file.
type LogLine struct {
	Host       string    `json:"host"`
	File       string    `json:"file"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}
