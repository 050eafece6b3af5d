package queryparse

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain/document"
)

const dateLayout = "2006-01-02"

// buildPrompt renders the instruction sent to the interpreter. The output
// schema mirrors rawSpec.
func buildPrompt(query string, asOf time.Time) string {
	cats := document.Categories()
	quoted := make([]string, len(cats))
	for i, c := range cats {
		quoted[i] = fmt.Sprintf("%q", string(c))
	}

	var b strings.Builder
	b.WriteString("Parse this natural language query about hospital mail into structured filters.\n\n")
	fmt.Fprintf(&b, "Query: %q\n\n", query)
	b.WriteString("Extract the following information and return it as JSON:\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"categories\": [zero or more of: %s],\n", strings.Join(quoted, ", "))
	b.WriteString("  \"priority\": \"high\" or \"medium\" or \"low\" or null,\n")
	b.WriteString("  \"time_range\": {\n")
	b.WriteString("    \"start_date\": \"YYYY-MM-DD\" or null,\n")
	b.WriteString("    \"end_date\": \"YYYY-MM-DD\" or null,\n")
	b.WriteString("    \"relative\": \"today\" or \"this week\" or \"last 3 days\" or null\n")
	b.WriteString("  },\n")
	b.WriteString("  \"keywords\": [important keywords to search],\n")
	b.WriteString("  \"entities\": {\n")
	b.WriteString("    \"patient_name\": null or \"<name>\",\n")
	b.WriteString("    \"doctor_name\": null or \"<name>\",\n")
	b.WriteString("    \"department\": null or \"<department>\"\n")
	b.WriteString("  },\n")
	b.WriteString("  \"status\": \"unread\" or \"pending\" or \"processed\" or \"archived\" or null\n")
	b.WriteString("}\n\n")
	fmt.Fprintf(&b, "Today's date is %s.\n", asOf.Format(dateLayout))
	return b.String()
}
