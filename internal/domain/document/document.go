package document

import (
	"fmt"
	"strings"
	"time"
)

// MaxIDLength is the maximum document identifier length.
const MaxIDLength = 256

// Params carries the raw attributes of a document before validation.
type Params struct {
	ID        string
	Sender    string
	Subject   string
	Summary   string
	Category  string
	Priority  string
	Status    string
	Timestamp time.Time
	Entities  map[string]*string
	Deleted   bool
}

// Document is a processed message snapshot (immutable value object).
type Document struct {
	id        string
	sender    string
	subject   string
	summary   string
	category  Category
	priority  Priority
	status    Status
	timestamp time.Time
	entities  map[string]string
	deleted   bool
}

// New validates and creates a Document.
// Unknown categories become CategoryOther, empty priority becomes medium,
// empty status becomes unread. Null entity values are dropped.
func New(p Params) (Document, error) {
	if p.ID == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if len(p.ID) > MaxIDLength {
		return Document{}, fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return Document{}, fmt.Errorf("subject is required for %q", p.ID)
	}
	if p.Timestamp.IsZero() {
		return Document{}, fmt.Errorf("timestamp is required for %q", p.ID)
	}

	category, ok := ParseCategory(p.Category)
	if !ok {
		category = CategoryOther
	}

	priority := PriorityMedium
	if p.Priority != "" {
		if priority, ok = ParsePriority(p.Priority); !ok {
			return Document{}, fmt.Errorf("invalid priority %q for %q", p.Priority, p.ID)
		}
	}

	status := StatusUnread
	if p.Status != "" {
		if status, ok = ParseStatus(p.Status); !ok {
			return Document{}, fmt.Errorf("invalid status %q for %q", p.Status, p.ID)
		}
	}

	var entities map[string]string
	for k, v := range p.Entities {
		if v == nil || k == "" {
			continue
		}
		if entities == nil {
			entities = make(map[string]string, len(p.Entities))
		}
		entities[k] = *v
	}

	return Document{
		id:        p.ID,
		sender:    p.Sender,
		subject:   p.Subject,
		summary:   p.Summary,
		category:  category,
		priority:  priority,
		status:    status,
		timestamp: p.Timestamp.UTC(),
		entities:  entities,
		deleted:   p.Deleted,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id, sender, subject, summary string,
	category Category, priority Priority, status Status,
	timestamp time.Time, entities map[string]string, deleted bool,
) Document {
	return Document{
		id: id, sender: sender, subject: subject, summary: summary,
		category: category, priority: priority, status: status,
		timestamp: timestamp, entities: entities, deleted: deleted,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Sender returns the originating address.
func (d *Document) Sender() string { return d.sender }

// Subject returns the message subject.
func (d *Document) Subject() string { return d.subject }

// Summary returns the generated summary, possibly empty.
func (d *Document) Summary() string { return d.summary }

// Category returns the classification label.
func (d *Document) Category() Category { return d.category }

// Priority returns the urgency level.
func (d *Document) Priority() Priority { return d.priority }

// Status returns the processing state.
func (d *Document) Status() Status { return d.status }

// Timestamp returns the message time in UTC.
func (d *Document) Timestamp() time.Time { return d.timestamp }

// Entities returns the extracted entity mapping. Callers must not mutate it.
func (d *Document) Entities() map[string]string { return d.entities }

// Entity returns a single entity value.
func (d *Document) Entity(key string) (string, bool) {
	v, ok := d.entities[key]
	return v, ok
}

// Deleted reports whether the document is soft-deleted.
func (d *Document) Deleted() bool { return d.deleted }

// WithDeleted returns a copy with the soft-delete flag set.
func (d *Document) WithDeleted(deleted bool) Document {
	c := *d
	c.deleted = deleted
	return c
}

// EmbeddingText is the text embedded for semantic search:
// subject, summary and category joined by single spaces, empty parts skipped.
func (d *Document) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.subject, d.summary, string(d.category)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
