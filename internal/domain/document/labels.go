package document

import "strings"

// Category is the classification label assigned at ingestion.
type Category string

// Category constants. The set is closed: anything else normalizes to CategoryOther.
const (
	CategoryCommunication Category = "Doctor / Patient Communication"
	CategoryDiagnostic    Category = "Diagnostic Results"
	CategoryInsurance     Category = "Insurance Claims"
	CategoryBilling       Category = "Billing / Payment"
	CategoryAppointment   Category = "Appointment Confirmation"
	CategoryNotice        Category = "Official Notice"
	CategoryMedicalReport Category = "Medical Report"
	CategoryPrescription  Category = "Prescription"
	CategoryLabResults    Category = "Lab Results"
	CategoryOther         Category = "Other"
)

var categories = []Category{
	CategoryCommunication,
	CategoryDiagnostic,
	CategoryInsurance,
	CategoryBilling,
	CategoryAppointment,
	CategoryNotice,
	CategoryMedicalReport,
	CategoryPrescription,
	CategoryLabResults,
	CategoryOther,
}

// Categories returns the closed category enumeration in canonical order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory matches a label case-insensitively against the enumeration.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Priority is the urgency level assigned at ingestion.
type Priority string

// Priority constants.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority matches a priority case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, true
	default:
		return "", false
	}
}

// Status is the processing state of a document.
type Status string

// Status constants.
const (
	StatusUnread    Status = "unread"
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusArchived  Status = "archived"
)

// ParseStatus matches a status case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUnread, StatusPending, StatusProcessed, StatusArchived:
		return st, true
	default:
		return "", false
	}
}
