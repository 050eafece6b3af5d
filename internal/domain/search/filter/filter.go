package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain/document"
)

// MaxEntityPredicates is the maximum number of entity predicates per spec.
const MaxEntityPredicates = 16

// Known entity keys the query parser may produce.
const (
	EntityPatientName = "patient_name"
	EntityDoctorName  = "doctor_name"
	EntityDepartment  = "department"
)

// Op is an entity comparison operator.
type Op string

// Entity operators.
const (
	OpContains Op = "contains"
	OpEquals   Op = "equals"
)

// Params carries spec fields before validation.
type Params struct {
	Categories []document.Category
	Priority   document.Priority
	Status     document.Status
	TimeRange  TimeRange
	Entities   []EntityPredicate
	Keywords   []string
}

// Spec is a conjunctive structured filter plus the free-text keywords of a query.
// Empty fields are unrestricted.
type Spec struct {
	categories []document.Category
	priority   document.Priority
	status     document.Status
	timeRange  TimeRange
	entities   []EntityPredicate
	keywords   []string
}

// New validates and creates a Spec. Duplicate categories and blank keywords are dropped.
func New(p Params) (Spec, error) {
	if len(p.Entities) > MaxEntityPredicates {
		return Spec{}, fmt.Errorf("too many entity predicates (max %d)", MaxEntityPredicates)
	}
	if p.TimeRange.from != nil && p.TimeRange.to != nil && p.TimeRange.to.Before(*p.TimeRange.from) {
		return Spec{}, fmt.Errorf("time range end precedes start")
	}

	var cats []document.Category
	seen := make(map[document.Category]struct{}, len(p.Categories))
	for _, c := range p.Categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		cats = append(cats, c)
	}

	var kws []string
	for _, k := range p.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}

	return Spec{
		categories: cats,
		priority:   p.Priority,
		status:     p.Status,
		timeRange:  p.TimeRange,
		entities:   p.Entities,
		keywords:   kws,
	}, nil
}

// KeywordsOnly returns a spec with no structured constraints.
func KeywordsOnly(keywords []string) Spec {
	s, _ := New(Params{Keywords: keywords})
	return s
}

// Categories returns the allowed categories (empty = all).
func (s Spec) Categories() []document.Category { return s.categories }

// Priority returns the required priority, empty when unrestricted.
func (s Spec) Priority() document.Priority { return s.priority }

// Status returns the required status, empty when unrestricted.
func (s Spec) Status() document.Status { return s.status }

// TimeRange returns the timestamp bounds.
func (s Spec) TimeRange() TimeRange { return s.timeRange }

// Entities returns entity predicates.
func (s Spec) Entities() []EntityPredicate { return s.entities }

// Keywords returns the free-text terms for semantic search.
func (s Spec) Keywords() []string { return s.keywords }

// HasKeywords reports whether semantic search should run.
func (s Spec) HasKeywords() bool { return len(s.keywords) > 0 }

// KeywordText joins keywords with single spaces.
func (s Spec) KeywordText() string { return strings.Join(s.keywords, " ") }

// IsUnrestricted reports whether no structured constraint is set.
func (s Spec) IsUnrestricted() bool {
	return len(s.categories) == 0 && s.priority == "" && s.status == "" &&
		s.timeRange.IsZero() && len(s.entities) == 0
}

// Matches evaluates every structured constraint against doc. Keywords are ignored.
// Deleted documents never match.
func (s Spec) Matches(doc *document.Document) bool {
	if doc.Deleted() {
		return false
	}
	if len(s.categories) > 0 {
		ok := false
		for _, c := range s.categories {
			if doc.Category() == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if s.priority != "" && doc.Priority() != s.priority {
		return false
	}
	if s.status != "" && doc.Status() != s.status {
		return false
	}
	if !s.timeRange.Contains(doc.Timestamp()) {
		return false
	}
	for _, e := range s.entities {
		if !e.Matches(doc) {
			return false
		}
	}
	return true
}

// TimeRange bounds a timestamp. Both ends are inclusive and optional.
type TimeRange struct {
	from *time.Time
	to   *time.Time
}

// Since creates a range with only a lower bound.
func Since(from time.Time) TimeRange {
	f := from.UTC()
	return TimeRange{from: &f}
}

// Between creates a range; nil bounds are open.
func Between(from, to *time.Time) TimeRange {
	var r TimeRange
	if from != nil {
		f := from.UTC()
		r.from = &f
	}
	if to != nil {
		t := to.UTC()
		r.to = &t
	}
	return r
}

// From returns the lower bound.
func (r TimeRange) From() *time.Time { return r.from }

// To returns the upper bound.
func (r TimeRange) To() *time.Time { return r.to }

// IsZero reports whether the range is unbounded.
func (r TimeRange) IsZero() bool { return r.from == nil && r.to == nil }

// Contains reports whether t lies within the range.
func (r TimeRange) Contains(t time.Time) bool {
	if r.from != nil && t.Before(*r.from) {
		return false
	}
	if r.to != nil && t.After(*r.to) {
		return false
	}
	return true
}

// EntityPredicate matches one entity of a document.
type EntityPredicate struct {
	key   string
	value string
	op    Op
}

// NewEntityPredicate validates and creates a predicate.
func NewEntityPredicate(key, value string, op Op) (EntityPredicate, error) {
	if key == "" {
		return EntityPredicate{}, fmt.Errorf("entity key is required")
	}
	if strings.TrimSpace(value) == "" {
		return EntityPredicate{}, fmt.Errorf("value is required for entity %q", key)
	}
	if op == "" {
		op = OpContains
	}
	if op != OpContains && op != OpEquals {
		return EntityPredicate{}, fmt.Errorf("invalid entity operator %q", op)
	}
	return EntityPredicate{key: key, value: strings.TrimSpace(value), op: op}, nil
}

// Key returns the entity key.
func (e EntityPredicate) Key() string { return e.key }

// Value returns the compared value.
func (e EntityPredicate) Value() string { return e.value }

// Op returns the comparison operator.
func (e EntityPredicate) Op() Op { return e.op }

// Matches reports whether doc carries a matching entity.
func (e EntityPredicate) Matches(doc *document.Document) bool {
	v, ok := doc.Entity(e.key)
	if !ok {
		return false
	}
	if e.op == OpEquals {
		return v == e.value
	}
	return strings.Contains(strings.ToLower(v), strings.ToLower(e.value))
}
