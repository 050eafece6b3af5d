package document

import (
	"encoding/json"
	"fmt"
	"time"

	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
)

// Hash field names.
const (
	fieldSender    = "sender"
	fieldSubject   = "subject"
	fieldSummary   = "summary"
	fieldCategory  = "category"
	fieldPriority  = "priority"
	fieldStatus    = "status"
	fieldTimestamp = "timestamp"
	fieldEntities  = "entities"
	fieldDeleted   = "deleted"
)

// buildHashFields converts a domain Document into a flat map[string]string for HSET.
func buildHashFields(doc *domdoc.Document) (map[string]string, error) {
	entities := "{}"
	if len(doc.Entities()) > 0 {
		raw, err := json.Marshal(doc.Entities())
		if err != nil {
			return nil, fmt.Errorf("marshal entities: %w", err)
		}
		entities = string(raw)
	}
	deleted := "0"
	if doc.Deleted() {
		deleted = "1"
	}
	return map[string]string{
		fieldSender:    doc.Sender(),
		fieldSubject:   doc.Subject(),
		fieldSummary:   doc.Summary(),
		fieldCategory:  string(doc.Category()),
		fieldPriority:  string(doc.Priority()),
		fieldStatus:    string(doc.Status()),
		fieldTimestamp: doc.Timestamp().UTC().Format(time.RFC3339Nano),
		fieldEntities:  entities,
		fieldDeleted:   deleted,
	}, nil
}

// parseHashFields converts a flat hash map back into a domain Document.
func parseHashFields(id string, m map[string]string) (domdoc.Document, error) {
	ts, err := time.Parse(time.RFC3339Nano, m[fieldTimestamp])
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse timestamp of %s: %w", id, err)
	}

	var entities map[string]string
	if raw := m[fieldEntities]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &entities); err != nil {
			return domdoc.Document{}, fmt.Errorf("parse entities of %s: %w", id, err)
		}
	}

	return domdoc.Reconstruct(
		id, m[fieldSender], m[fieldSubject], m[fieldSummary],
		domdoc.Category(m[fieldCategory]),
		domdoc.Priority(m[fieldPriority]),
		domdoc.Status(m[fieldStatus]),
		ts, entities, m[fieldDeleted] == "1",
	), nil
}
