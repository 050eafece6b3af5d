package queryparse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
)

// DefaultTimeout bounds one interpreter call.
const DefaultTimeout = 30 * time.Second

// ErrMalformedOutput signals interpreter output that is not the expected JSON object.
var ErrMalformedOutput = errors.New("malformed interpreter output")

// Outcome is the result of parsing one query. Fallback is set when the
// interpreter could not be used and Reason carries the cause.
type Outcome struct {
	Spec     filter.Spec
	Fallback bool
	Reason   error
}

type rawTimeRange struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Relative  *string `json:"relative"`
}

type rawSpec struct {
	Categories []string           `json:"categories"`
	Priority   *string            `json:"priority"`
	TimeRange  *rawTimeRange      `json:"time_range"`
	Keywords   []string           `json:"keywords"`
	Entities   map[string]*string `json:"entities"`
	Status     *string            `json:"status"`
}

// Parser translates free-form queries into filter specs.
type Parser struct {
	interp  Interpreter
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Parser. A non-positive timeout uses DefaultTimeout.
func New(interp Interpreter, timeout time.Duration, logger *zap.Logger) *Parser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{interp: interp, timeout: timeout, logger: logger}
}

// Parse never fails: on interpreter or decoding errors it returns a
// keyword-only spec built from the query's whitespace-separated words.
func (p *Parser) Parse(ctx context.Context, text string, asOf time.Time) Outcome {
	raw, err := p.interpret(ctx, text, asOf)
	if err != nil {
		p.logger.Warn("Query parse fell back to keywords",
			zap.String("query", text),
			zap.Error(err),
		)
		return Outcome{Spec: fallbackSpec(text), Fallback: true, Reason: err}
	}

	spec := p.toSpec(raw, asOf)
	p.logger.Debug("Query parsed",
		zap.String("query", text),
		zap.Int("categories", len(spec.Categories())),
		zap.Int("keywords", len(spec.Keywords())),
		zap.Int("entities", len(spec.Entities())),
	)
	return Outcome{Spec: spec}
}

func (p *Parser) interpret(ctx context.Context, text string, asOf time.Time) (*rawSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.interp.Interpret(ctx, buildPrompt(text, asOf))
	if err != nil {
		return nil, fmt.Errorf("interpret query: %w", err)
	}

	var raw rawSpec
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return &raw, nil
}

func fallbackSpec(text string) filter.Spec {
	return filter.KeywordsOnly(strings.Fields(text))
}

// toSpec validates interpreter output field by field, dropping anything
// outside the closed enumerations.
func (p *Parser) toSpec(raw *rawSpec, asOf time.Time) filter.Spec {
	var params filter.Params

	for _, c := range raw.Categories {
		if cat, ok := document.ParseCategory(c); ok {
			params.Categories = append(params.Categories, cat)
			continue
		}
		p.logger.Debug("Dropped unknown category", zap.String("category", c))
	}

	if raw.Priority != nil {
		if pr, ok := document.ParsePriority(*raw.Priority); ok {
			params.Priority = pr
		} else {
			p.logger.Debug("Dropped unknown priority", zap.String("priority", *raw.Priority))
		}
	}

	if raw.Status != nil {
		if st, ok := document.ParseStatus(*raw.Status); ok {
			params.Status = st
		} else {
			p.logger.Debug("Dropped unknown status", zap.String("status", *raw.Status))
		}
	}

	params.TimeRange = p.resolveTimeRange(raw.TimeRange, asOf)
	params.Entities = p.entityPredicates(raw.Entities)
	params.Keywords = raw.Keywords

	spec, err := filter.New(params)
	if err != nil {
		// Only reachable through an inverted range; the rest is already clean.
		p.logger.Debug("Dropped invalid time range", zap.Error(err))
		params.TimeRange = filter.TimeRange{}
		spec, _ = filter.New(params)
	}
	return spec
}

var entityKeys = []string{filter.EntityPatientName, filter.EntityDoctorName, filter.EntityDepartment}

func (p *Parser) entityPredicates(raw map[string]*string) []filter.EntityPredicate {
	var out []filter.EntityPredicate
	for _, key := range entityKeys {
		v, ok := raw[key]
		if !ok || v == nil || strings.TrimSpace(*v) == "" {
			continue
		}
		pred, err := filter.NewEntityPredicate(key, strings.TrimSpace(*v), filter.OpContains)
		if err != nil {
			p.logger.Debug("Dropped entity predicate", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, pred)
	}
	return out
}

// resolveTimeRange applies absolute dates first, then lets a recognised
// relative tag replace the start bound. The end date covers its whole day.
func (p *Parser) resolveTimeRange(raw *rawTimeRange, asOf time.Time) filter.TimeRange {
	if raw == nil {
		return filter.TimeRange{}
	}

	var from, to *time.Time
	if raw.StartDate != nil {
		if d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*raw.StartDate), asOf.Location()); err == nil {
			from = &d
		} else {
			p.logger.Debug("Dropped malformed start date", zap.String("start_date", *raw.StartDate))
		}
	}
	if raw.EndDate != nil {
		if d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*raw.EndDate), asOf.Location()); err == nil {
			end := d.AddDate(0, 0, 1).Add(-time.Nanosecond)
			to = &end
		} else {
			p.logger.Debug("Dropped malformed end date", zap.String("end_date", *raw.EndDate))
		}
	}

	if raw.Relative != nil {
		if start, ok := resolveRelative(*raw.Relative, asOf); ok {
			from = &start
		} else {
			p.logger.Debug("Dropped unrecognised relative time", zap.String("relative", *raw.Relative))
		}
	}

	return filter.Between(from, to)
}

// resolveRelative maps a relative tag to a lower bound anchored at asOf.
func resolveRelative(tag string, asOf time.Time) (time.Time, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch {
	case tag == "":
		return time.Time{}, false
	case tag == "today":
		y, m, d := asOf.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, asOf.Location()), true
	case strings.Contains(tag, "week"):
		return asOf.AddDate(0, 0, -7), true
	case strings.Contains(tag, "day"):
		digits := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, tag)
		n, err := strconv.Atoi(digits)
		if err != nil {
			return time.Time{}, false
		}
		return asOf.AddDate(0, 0, -n), true
	default:
		return time.Time{}, false
	}
}
