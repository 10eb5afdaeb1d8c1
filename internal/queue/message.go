// Package queue carries analysis jobs between the API and worker processes.
package queue

import (
	"bytes"
	"encoding/json"
	"time"
)

// MessageVersion is the payload version written by this build. Consumers
// reject anything newer and treat 0 as a pre-versioning payload.
const MessageVersion = 1

// Message asks a worker process to run one analysis.
type Message struct {
	AnalysisID string `json:"analysisId"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a current-version message enqueued at now.
func NewMessage(analysisID, requestID string, now time.Time) Message {
	return Message{
		AnalysisID: analysisID,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a payload. Unknown fields are ignored so older
// workers can read messages from newer producers of the same version.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
