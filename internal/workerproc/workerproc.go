// Package workerproc decodes analysis queue messages and runs them. It is
// shared by the long-polling worker and the Lambda worker so both treat bad
// payloads the same way.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"anamnesis-backend/internal/anamnesis"
	"anamnesis-backend/internal/queue"
)

// Processor runs one queued analysis.
type Processor interface {
	ProcessAnalysis(ctx context.Context, analysisID string) error
}

// ErrNoProcessor is returned by HandleMessage when processor is nil.
var ErrNoProcessor = errors.New("analysis processor not configured")

// MessageMeta identifies a payload in logs without logging its body.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

func metaOf(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// Reason classifies a rejected payload. The values double as log event
// suffixes.
type Reason string

const (
	ReasonEmptyBody          Reason = "empty_body"
	ReasonMalformed          Reason = "decode_failed"
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonMissingAnalysisID  Reason = "missing_id"
)

// Rejection is a payload that can never be processed. Callers should delete
// it rather than let it redeliver.
type Rejection struct {
	Reason    Reason
	Meta      MessageMeta
	Version   int
	RequestID string
	Err       error
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonUnsupportedVersion:
		return fmt.Sprintf("unsupported message version %d", r.Version)
	case ReasonMalformed:
		if r.Err != nil {
			return "decode message: " + r.Err.Error()
		}
	}
	return strings.ReplaceAll(string(r.Reason), "_", " ")
}

func (r *Rejection) Unwrap() error { return r.Err }

// ProcessError wraps a processor failure for a well-formed message. These
// are worth redelivering.
type ProcessError struct {
	AnalysisID string
	RequestID  string
	Err        error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process analysis %s: %v", e.AnalysisID, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ParseMessage decodes and validates a queue payload. Messages with version 0
// predate versioning and are accepted. On rejection the returned message
// carries whatever fields could be decoded.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := metaOf(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, &Rejection{Reason: ReasonEmptyBody, Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	switch {
	case err != nil:
		return queue.Message{}, meta, &Rejection{Reason: ReasonMalformed, Meta: meta, Err: err}
	case msg.Version > queue.MessageVersion:
		return msg, meta, &Rejection{Reason: ReasonUnsupportedVersion, Meta: meta, Version: msg.Version, RequestID: msg.RequestID}
	case strings.TrimSpace(msg.AnalysisID) == "":
		return msg, meta, &Rejection{Reason: ReasonMissingAnalysisID, Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedKey struct{}

// WithParsedMessage lets HandleMessage skip decoding a body the caller has
// already parsed.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedKey{}, msg)
}

// HandleMessage runs the analysis named by body under the message's request
// id. It returns a *Rejection for bad payloads and a *ProcessError when the
// processor fails.
func HandleMessage(ctx context.Context, processor Processor, body string) error {
	if processor == nil {
		return ErrNoProcessor
	}

	msg, ok := ctx.Value(parsedKey{}).(queue.Message)
	if !ok {
		var err error
		if msg, _, err = ParseMessage(body); err != nil {
			return err
		}
	}
	if strings.TrimSpace(msg.AnalysisID) == "" {
		return &Rejection{Reason: ReasonMissingAnalysisID, Meta: metaOf(body), RequestID: msg.RequestID}
	}

	if err := processor.ProcessAnalysis(anamnesis.WithRequestID(ctx, msg.RequestID), msg.AnalysisID); err != nil {
		return &ProcessError{AnalysisID: msg.AnalysisID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
