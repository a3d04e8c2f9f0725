package firehose

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Decoder validates raw wire events against the configured collection
// allow-list and normalizes them into CommitRecords. Decoding is a pure
// transformation: the same input always yields the same output, and all
// failures are returned as Rejections for the caller to count and log.
type Decoder struct {
	collections map[string]struct{}
}

// NewDecoder creates a decoder that accepts commits for the given collections.
func NewDecoder(collections []string) *Decoder {
	allow := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		allow[c] = struct{}{}
	}
	return &Decoder{collections: allow}
}

// Decode converts one raw frame into a CommitRecord or a Rejection. Exactly
// one of the return values is non-nil.
func (d *Decoder) Decode(data []byte) (*CommitRecord, *Rejection) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, &Rejection{Reason: ReasonUnparseableEvent, Err: err}
	}

	if event.Kind != KindCommit {
		return nil, &Rejection{Reason: ReasonIgnoredKind, Kind: event.Kind}
	}

	commit := event.Commit
	if commit == nil {
		return nil, &Rejection{Reason: ReasonMissingCommit, Kind: event.Kind}
	}

	if _, ok := d.collections[commit.Collection]; !ok {
		return nil, &Rejection{
			Reason:     ReasonUnwantedCollection,
			Kind:       event.Kind,
			Collection: commit.Collection,
		}
	}

	if commit.RKey == "" {
		return nil, &Rejection{
			Reason:     ReasonMissingRecordKey,
			Kind:       event.Kind,
			Collection: commit.Collection,
		}
	}

	cursor := event.TimeUS
	if cursor <= 0 {
		// Defensive fallback; the stream always supplies time_us in practice.
		cursor = time.Now().UnixMicro()
	}

	rec := &CommitRecord{
		PostID:     event.DID + ":" + commit.RKey,
		DID:        event.DID,
		RKey:       commit.RKey,
		Collection: commit.Collection,
		Cursor:     cursor,
	}

	switch commit.Operation {
	case opCreateTag:
		rec.Operation = OpCreate
	case opUpdateTag:
		rec.Operation = OpUpdate
	case opDeleteTag:
		// Deletes carry no record payload; only the key matters.
		rec.Operation = OpDelete
		return rec, nil
	default:
		return nil, &Rejection{
			Reason:     ReasonUnsupportedOp,
			Kind:       event.Kind,
			Collection: commit.Collection,
			Op:         commit.Operation,
		}
	}

	if rej := d.decodeRecord(rec, commit); rej != nil {
		return nil, rej
	}
	return rec, nil
}

// decodeRecord parses and validates the record payload of a create/update
// commit into rec. The payload may arrive either as a JSON object or as a
// JSON-encoded string containing an object.
func (d *Decoder) decodeRecord(rec *CommitRecord, commit *Commit) *Rejection {
	raw := commit.Record
	if len(raw) == 0 {
		return &Rejection{
			Reason:     ReasonMissingField,
			Kind:       KindCommit,
			Collection: commit.Collection,
			Field:      "record",
		}
	}

	// Double-encoded records show up as a JSON string.
	if bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte(`"`)) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return &Rejection{
				Reason:     ReasonUnparseableRecord,
				Kind:       KindCommit,
				Collection: commit.Collection,
				Err:        err,
			}
		}
		raw = []byte(inner)
	}

	// The record schema is not contractually fixed beyond a few fields, so it
	// is inspected as a loose map rather than a struct.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Rejection{
			Reason:     ReasonUnparseableRecord,
			Kind:       KindCommit,
			Collection: commit.Collection,
			Err:        err,
		}
	}

	recordType, ok := fields["$type"].(string)
	if !ok || recordType == "" {
		return &Rejection{
			Reason:     ReasonMissingField,
			Kind:       KindCommit,
			Collection: commit.Collection,
			Field:      "$type",
		}
	}

	createdAtRaw, ok := fields["createdAt"].(string)
	if !ok || createdAtRaw == "" {
		return &Rejection{
			Reason:     ReasonMissingField,
			Kind:       KindCommit,
			Collection: commit.Collection,
			Field:      "createdAt",
		}
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtRaw)
	if err != nil {
		// Author-supplied timestamps are unreliable; fall back to stream time
		// rather than rejecting an otherwise valid post.
		createdAt = time.UnixMicro(rec.Cursor).UTC()
	}
	rec.CreatedAt = createdAt

	if text, ok := fields["text"].(string); ok {
		rec.Text = text
	}

	rec.Languages = normalizeLanguages(fields["langs"])
	return nil
}

// normalizeLanguages converts the loosely-typed langs field into the
// normalized language set. A missing or malformed field, or one with no
// usable entries, yields the sentinel rather than an error.
func normalizeLanguages(raw any) []string {
	entries, ok := raw.([]any)
	if !ok {
		return []string{UnknownLanguage}
	}

	var langs []string
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		code, ok := entry.(string)
		if !ok {
			continue
		}
		if lang := normalizeLanguage(code); lang != "" {
			if _, dup := seen[lang]; !dup {
				seen[lang] = struct{}{}
				langs = append(langs, lang)
			}
		}
	}

	if len(langs) == 0 {
		return []string{UnknownLanguage}
	}
	return langs
}

// normalizeLanguage lower-cases a BCP-47 tag and strips everything after the
// primary subtag ("en-US" -> "en").
func normalizeLanguage(code string) string {
	code = strings.TrimSpace(strings.ToLower(code))
	if idx := strings.IndexByte(code, '-'); idx >= 0 {
		code = code[:idx]
	}
	return code
}
