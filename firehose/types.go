// Package firehose consumes the Jetstream commit firehose: it owns the
// long-lived WebSocket connection, the reconnect state machine, and the
// validation that turns loosely-typed wire events into CommitRecords.
package firehose

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds delivered by the firehose.
const (
	KindCommit   = "com"
	KindAccount  = "acc"
	KindIdentity = "id"
)

// Commit operation tags on the wire.
const (
	opCreateTag = "c"
	opUpdateTag = "u"
	opDeleteTag = "d"
)

// UnknownLanguage is the sentinel language assigned to posts that carry no
// usable language tags. A decoded record never has an empty language set.
const UnknownLanguage = "unknown"

// Event is the raw JSON envelope received from the stream. Only the envelope
// fields are contractually typed; the commit record payload is validated by
// the Decoder.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"type"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit is the raw commit payload of a "com" event.
type Commit struct {
	Operation  string          `json:"type"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// Operation is the normalized commit operation.
type Operation int

const (
	// OpCreate inserts a new post.
	OpCreate Operation = iota
	// OpUpdate replaces an existing post.
	OpUpdate
	// OpDelete removes a post.
	OpDelete
)

// String returns the string representation of Operation
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CommitRecord is the normalized unit of work derived from one wire event.
type CommitRecord struct {
	// PostID is "<did>:<rkey>", stable across create/update/delete for the
	// same logical post.
	PostID     string
	DID        string
	RKey       string
	Collection string
	Operation  Operation

	// CreatedAt is author-supplied; when the record carries an unparseable
	// timestamp it falls back to the event time.
	CreatedAt time.Time

	// Languages is never empty: posts without usable tags get UnknownLanguage.
	Languages []string

	// Text is the raw post body, used only for emoji extraction.
	Text string

	// Cursor is the event's time_us, used as the resume point and as the
	// tie-break for latest-wins writes.
	Cursor int64
}

// RejectReason identifies why a wire event was not converted to a CommitRecord.
type RejectReason int

const (
	// ReasonUnparseableEvent covers frames that are not valid JSON envelopes.
	ReasonUnparseableEvent RejectReason = iota
	// ReasonIgnoredKind covers non-commit kinds (account, identity, unknown).
	ReasonIgnoredKind
	// ReasonMissingCommit covers commit events without a commit payload.
	ReasonMissingCommit
	// ReasonUnwantedCollection covers collections outside the allow-list.
	ReasonUnwantedCollection
	// ReasonMissingRecordKey covers commits without an rkey.
	ReasonMissingRecordKey
	// ReasonUnparseableRecord covers create/update records that fail to parse.
	ReasonUnparseableRecord
	// ReasonMissingField covers records lacking a required field.
	ReasonMissingField
	// ReasonUnsupportedOp covers operation tags outside create/update/delete.
	ReasonUnsupportedOp
)

// String returns the metric label for the reason.
func (r RejectReason) String() string {
	switch r {
	case ReasonUnparseableEvent:
		return "unparseable_event"
	case ReasonIgnoredKind:
		return "ignored_kind"
	case ReasonMissingCommit:
		return "missing_commit"
	case ReasonUnwantedCollection:
		return "unwanted_collection"
	case ReasonMissingRecordKey:
		return "missing_record_key"
	case ReasonUnparseableRecord:
		return "unparseable_record"
	case ReasonMissingField:
		return "missing_field"
	case ReasonUnsupportedOp:
		return "unsupported_operation"
	default:
		return "unknown"
	}
}

// Rejection is the tagged alternative to a CommitRecord. Rejections are
// counted and rate-limit logged by the caller; they never close the stream.
type Rejection struct {
	Reason RejectReason

	// Kind and Collection locate the event for metrics labels.
	Kind       string
	Collection string

	// Field carries the missing field name for ReasonMissingField; Op carries
	// the offending tag for ReasonUnsupportedOp.
	Field string
	Op    string

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface
func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("decode rejected (%s): field %q", r.Reason, r.Field)
	case ReasonUnsupportedOp:
		return fmt.Sprintf("decode rejected (%s): op %q", r.Reason, r.Op)
	default:
		if r.Err != nil {
			return fmt.Sprintf("decode rejected (%s): %v", r.Reason, r.Err)
		}
		return fmt.Sprintf("decode rejected (%s)", r.Reason)
	}
}

// Unwrap returns the underlying error
func (r *Rejection) Unwrap() error {
	return r.Err
}
