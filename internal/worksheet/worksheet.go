// Package worksheet parses the daily follow-up workbook and a companion
// portal-directory workbook into Teams events, using
// github.com/tealeg/xlsx for spreadsheet parsing.
package worksheet

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dueSoonThresholdDays         = 2
	criticalOverdueThresholdDays = 3
	highRejectionAmount          = 250_000.0
	mediumRejectionAmount        = 100_000.0
	compliancePercentThreshold   = 0.05
)

var branchAliases = map[string]string{
	"riyad":         "riyadh",
	"jazan":         "jizan",
	"madina":        "madinah",
	"medina":        "madinah",
	"medinah":       "madinah",
	"khamismushait": "khamis",
	"onizah":        "unizah",
	"onaiza":        "unizah",
	"onaizah":       "unizah",
}

var branchDisplay = map[string]string{
	"riyadh": "Riyadh",
	"jizan":  "Jizan",
	"madinah": "Madinah",
	"khamis": "Khamis Mushait",
	"unizah": "Unaizah",
	"abha":   "Abha",
	"makkah": "Makkah",
}

var statusAliases = map[string]string{
	"submitted":        "submitted",
	"submited":         "submitted",
	"submitted ":       "submitted",
	"submitted-":       "submitted",
	"no rejection":     "no_rejection",
	"no_rejection":     "no_rejection",
	"passed due":       "passed_due",
	"passed due ":      "passed_due",
	"ready to work":    "ready_to_work",
	"ready for work":   "ready_to_work",
	"under processing": "under_processing",
	"underprocess":     "under_processing",
	"not submitted":    "not_submitted",
	"not submit":       "not_submitted",
}

var statusDisplay = map[string]string{
	"submitted":         "Submitted",
	"no_rejection":      "No Rejection",
	"passed_due":        "Passed Due",
	"ready_to_work":     "Ready To Work",
	"under_processing":  "Under Processing",
	"not_submitted":     "Not Submitted",
	"unknown":           "Needs Review",
}

// specialHeaderMap carries literal header text that doesn't reduce
// cleanly through the generic slugify rule, including the two columns
// the original drops outright (nil value).
var specialHeaderMap = map[string]*string{
	"Initial Rejection %":     strPtr("initial_rejection_percent"),
	"Initial Rejection % ":    strPtr("initial_rejection_percent"),
	"Initial Rejected Amount": strPtr("initial_rejected_amount"),
	"Final Rejection %":       strPtr("final_rejection_percent"),
	"Final Rejection % ":      strPtr("final_rejection_percent"),
	"Due date ":               strPtr("due_date"),
	"Due date":                strPtr("due_date"),
	"Re-submission date ":     strPtr("resubmission_date"),
	"Re-submission date":      strPtr("resubmission_date"),
	"Column1":                 nil,
	"Column44":                nil,
}

func strPtr(s string) *string { return &s }

var nonAlphaRe = regexp.MustCompile(`[^a-zA-Z]`)
var nonAlnumDashRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)
var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeBranchName converts raw branch cell content to a canonical
// slug. ok is false when the value doesn't map to a known branch.
func normalizeBranchName(value string) (string, bool) {
	token := strings.ToLower(nonAlphaRe.ReplaceAllString(value, ""))
	if token == "" {
		return "", false
	}
	if alias, ok := branchAliases[token]; ok {
		return alias, true
	}
	if _, ok := branchDisplay[token]; ok {
		return token, true
	}
	return "", false
}

func branchDisplayName(branch string) string {
	if branch == "" {
		return "Unknown Branch"
	}
	if name, ok := branchDisplay[branch]; ok {
		return name
	}
	return strings.Title(strings.ReplaceAll(branch, "_", " "))
}

func slugify(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	token := strings.Trim(nonAlnumDashRe.ReplaceAllString(trimmed, "-"), "-")
	return strings.ToLower(token)
}

// cleanString normalizes string values; blanks and placeholders are
// treated as missing.
func cleanString(value string) (string, bool) {
	cleaned := strings.TrimSpace(value)
	switch cleaned {
	case "", "-", "--", "—", "_":
		return "", false
	default:
		return cleaned, true
	}
}

// parseFloat is a best-effort numeric parse tolerant of thousands
// separators, blank/placeholder cells, and formula text.
func parseFloat(value string) (float64, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "-" || cleaned == "--" {
		return 0, false
	}
	if strings.HasPrefix(cleaned, "=") {
		return 0, false
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "01/02/2006", "02-01-2006"}

// excelEpoch is the Excel serial-date origin (1899-12-30, accounting for
// the historical leap-year bug).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseDate parses Excel date representations: a recognized string
// format, or a numeric serial day count.
func parseDate(value string) (time.Time, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "-" || cleaned == "--" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return guardBogusExcelDefault(t)
		}
	}
	if serial, err := strconv.ParseFloat(cleaned, 64); err == nil {
		if serial <= 0 {
			return time.Time{}, false
		}
		t := excelEpoch.Add(time.Duration(serial*24) * time.Hour)
		return guardBogusExcelDefault(t)
	}
	return time.Time{}, false
}

func guardBogusExcelDefault(t time.Time) (time.Time, bool) {
	if t.Year() < 1905 {
		return time.Time{}, false
	}
	return t, true
}

func normalizeStatus(raw string) string {
	text := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), " ")
	if text == "" {
		return "unknown"
	}
	if canonical, ok := statusAliases[text]; ok {
		return canonical
	}
	switch {
	case strings.Contains(text, "pass") && strings.Contains(text, "due"):
		return "passed_due"
	case strings.Contains(text, "ready"):
		return "ready_to_work"
	case strings.Contains(text, "not") && strings.Contains(text, "submit"):
		return "not_submitted"
	case strings.Contains(text, "under") && strings.Contains(text, "process"):
		return "under_processing"
	case strings.Contains(text, "submit"):
		return "submitted"
	case strings.Contains(text, "no") && strings.Contains(text, "rejection"):
		return "no_rejection"
	default:
		return "unknown"
	}
}

func formatCurrency(value float64, ok bool) string {
	if !ok {
		return "—"
	}
	return "SAR " + formatThousands(value)
}

func formatThousands(value float64) string {
	neg := value < 0
	if neg {
		value = -value
	}
	whole := math.Floor(value)
	frac := int(math.Round((value-whole)*100))
	s := strconv.FormatFloat(whole, 'f', 0, 64)
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	result := string(out) + "." + pad2(frac)
	if neg {
		result = "-" + result
	}
	return result
}

func pad2(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

func formatPercent(value float64, ok bool) string {
	if !ok {
		return "—"
	}
	if value <= 1 {
		return strconv.FormatFloat(value*100, 'f', 1, 64) + "%"
	}
	return strconv.FormatFloat(value, 'f', 1, 64) + "%"
}

func formatDate(t time.Time, ok bool) string {
	if !ok {
		return "Not provided"
	}
	return t.Format("2006-01-02")
}

func slugifyHeader(raw string) string {
	token := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_"), "_")
	return token
}
