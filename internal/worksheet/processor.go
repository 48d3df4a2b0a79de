package worksheet

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tealeg/xlsx"

	"github.com/nphies/claims-core/internal/teamsevent"
)

// normalizedRow is the Go analogue of _normalize_row's output dict.
type normalizedRow struct {
	branchKey             string
	branch                string
	status                string
	statusDisplay         string
	statusRaw             string
	dueDate               time.Time
	hasDueDate            bool
	receivedDate          time.Time
	hasReceivedDate       bool
	resubmissionDate      time.Time
	hasResubmissionDate   bool
	daysToDue             int
	hasDaysToDue          bool
	billingAmount         float64
	hasBillingAmount      bool
	approvedToPay         float64
	hasApprovedToPay      bool
	finalRejectionAmount  float64
	hasFinalRejection     bool
	finalRejectionPercent float64
	hasFinalRejectionPct  bool
	recoveryAmount        float64
	hasRecoveryAmount     bool
	insuranceCompany      string
	batchNo               string
	processor             string
	reworkType            string
	batchType             string
	billingMonth          string
	year                  int
	hasYear               bool
}

// AlertContext is a single row's alerting outcome, mirroring
// _build_alert_context's return dict. Exported so callers (e.g. a
// reporting CLI subcommand) can inspect non-alerting rows too via
// CollectContexts.
type AlertContext struct {
	ShouldAlert   bool
	Priority      teamsevent.Priority
	Stakeholders  []teamsevent.StakeholderGroup
	CorrelationID string
	Data          map[string]any
	Branch        string
	Status        string
}

// Processor generates Teams events from the daily follow-up worksheet,
// enriched with portal/credential context from a companion accounts
// workbook. Grounded on pipeline.follow_up_processor.FollowUpWorksheetProcessor.
type Processor struct {
	FollowUpPath string
	Today        time.Time
	Portal       *PortalDirectory
}

// NewProcessor constructs a Processor. If today is the zero value, the
// current UTC date is used.
func NewProcessor(followUpPath, accountsPath string, today time.Time) *Processor {
	if today.IsZero() {
		today = time.Now().UTC()
	}
	return &Processor{
		FollowUpPath: followUpPath,
		Today:        today,
		Portal:       NewPortalDirectory(accountsPath),
	}
}

// GenerateEvents parses the worksheet and produces actionable Teams
// events — only rows that carry at least one alert.
func (p *Processor) GenerateEvents() ([]teamsevent.Event, error) {
	contexts, err := p.CollectContexts(false)
	if err != nil {
		return nil, err
	}
	events := make([]teamsevent.Event, 0, len(contexts))
	for _, ctx := range contexts {
		events = append(events, p.buildEvent(ctx))
	}
	return events, nil
}

// CollectContexts returns per-row alert contexts. When includeNonAlerts
// is false, only rows with at least one alert are returned.
func (p *Processor) CollectContexts(includeNonAlerts bool) ([]AlertContext, error) {
	if _, err := os.Stat(p.FollowUpPath); err != nil {
		return nil, fmt.Errorf("follow-up workbook not found: %s", p.FollowUpPath)
	}
	rows, err := p.loadWorkbookRows()
	if err != nil {
		return nil, err
	}
	contexts := make([]AlertContext, 0, len(rows))
	for _, row := range rows {
		normalized, ok := p.normalizeRow(row)
		if !ok {
			continue
		}
		ctx := p.buildAlertContext(normalized)
		if !includeNonAlerts && !ctx.ShouldAlert {
			continue
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

func (p *Processor) loadWorkbookRows() ([]map[string]string, error) {
	file, err := xlsx.OpenFile(p.FollowUpPath)
	if err != nil {
		return nil, fmt.Errorf("open follow-up workbook: %w", err)
	}
	if len(file.Sheets) == 0 {
		return nil, fmt.Errorf("follow-up workbook has no sheets")
	}
	sheet := file.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	headers := sanitizeHeaders(sheet.Rows[0])

	var rows []map[string]string
	for i, excelRow := range sheet.Rows {
		if i == 0 {
			continue
		}
		rowMap := map[string]string{}
		empty := true
		for idx, header := range headers {
			if header == "" {
				continue
			}
			var value string
			if idx < len(excelRow.Cells) {
				value = excelRow.Cells[idx].Value
			}
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				empty = false
			}
			rowMap[header] = value
		}
		if empty {
			continue
		}
		rows = append(rows, rowMap)
	}
	return rows, nil
}

// sanitizeHeaders mirrors _sanitize_headers: special-case mapped
// headers, generic slugified headers, and de-duplication via a numeric
// suffix.
func sanitizeHeaders(headerRow *xlsx.Row) []string {
	seen := map[string]bool{}
	headers := make([]string, len(headerRow.Cells))
	for i, cell := range headerRow.Cells {
		raw := cell.Value
		if mapped, isSpecial := specialHeaderMap[raw]; isSpecial {
			if mapped == nil {
				headers[i] = ""
				continue
			}
			headers[i] = dedupe(*mapped, seen)
			continue
		}
		token := slugifyHeader(raw)
		if token == "" {
			headers[i] = ""
			continue
		}
		headers[i] = dedupe(token, seen)
	}
	return headers
}

func dedupe(token string, seen map[string]bool) string {
	base := token
	counter := 2
	for seen[token] {
		token = fmt.Sprintf("%s_%d", base, counter)
		counter++
	}
	seen[token] = true
	return token
}

func (p *Processor) normalizeRow(row map[string]string) (normalizedRow, bool) {
	branchKey, ok := normalizeBranchName(row["branch"])
	if !ok {
		return normalizedRow{}, false
	}

	statusRaw, _ := cleanString(row["batch_status"])
	status := normalizeStatus(statusRaw)

	n := normalizedRow{
		branchKey:     branchKey,
		branch:        branchDisplayName(branchKey),
		status:        status,
		statusDisplay: statusDisplayName(status),
		statusRaw:     statusRaw,
	}

	if dueDate, ok := parseDate(row["due_date"]); ok {
		n.dueDate, n.hasDueDate = dueDate, true
		n.daysToDue, n.hasDaysToDue = daysBetween(dueDate, p.Today), true
	}
	if receivedDate, ok := parseDate(row["received_date"]); ok {
		n.receivedDate, n.hasReceivedDate = receivedDate, true
	}
	if resubDate, ok := parseDate(row["resubmission_date"]); ok {
		n.resubmissionDate, n.hasResubmissionDate = resubDate, true
	}

	n.billingAmount, n.hasBillingAmount = parseFloat(row["billing_amount"])
	n.approvedToPay, n.hasApprovedToPay = parseFloat(row["approved_to_pay"])
	n.finalRejectionAmount, n.hasFinalRejection = parseFloat(row["final_rejection"])
	n.finalRejectionPercent, n.hasFinalRejectionPct = parseFloat(row["final_rejection_percent"])
	n.recoveryAmount, n.hasRecoveryAmount = parseFloat(row["recovery_amount"])

	if company, ok := cleanString(row["insurance_company"]); ok {
		n.insuranceCompany = company
	} else {
		n.insuranceCompany = "Unknown"
	}
	n.batchNo, _ = cleanString(row["batch_no"])
	n.processor, _ = cleanString(row["processor"])
	n.reworkType, _ = cleanString(row["rework_type"])
	n.batchType, _ = cleanString(row["batch_type"])
	if month, ok := cleanString(row["month"]); ok {
		n.billingMonth = strings.Title(strings.ToLower(month))
	}
	if year, ok := parseYear(row["year"]); ok {
		n.year, n.hasYear = year, true
	}

	return n, true
}

func statusDisplayName(status string) string {
	if name, ok := statusDisplay[status]; ok {
		return name
	}
	return strings.Title(strings.ReplaceAll(status, "_", " "))
}

func parseYear(value string) (int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		if f, ferr := strconv.ParseFloat(trimmed, 64); ferr == nil {
			return int(f), true
		}
		return 0, false
	}
	return n, true
}

func daysBetween(due, today time.Time) int {
	d := due.Truncate(24 * time.Hour)
	t := today.Truncate(24 * time.Hour)
	return int(d.Sub(t).Hours() / 24)
}

func (p *Processor) buildAlertContext(row normalizedRow) AlertContext {
	var alerts []string
	seenAlert := map[string]bool{}
	addAlert := func(message string) {
		if seenAlert[message] {
			return
		}
		seenAlert[message] = true
		alerts = append(alerts, message)
	}

	finalRejectionAmount := row.finalRejectionAmount
	recoveryAmount := row.recoveryAmount

	if row.status == "passed_due" {
		if row.hasDueDate && row.hasDaysToDue {
			addAlert(fmt.Sprintf("Marked Passed Due – overdue by %d day(s) (was due %s)", abs(row.daysToDue), formatDate(row.dueDate, true)))
		} else {
			addAlert("Marked Passed Due with missing due date – confirm in worksheet")
		}
	}
	if row.hasDaysToDue {
		switch {
		case row.daysToDue < 0 && row.status != "passed_due":
			addAlert(fmt.Sprintf("Due date %s passed %d day(s) ago", formatDate(row.dueDate, true), abs(row.daysToDue)))
		case row.daysToDue >= 0 && row.daysToDue <= dueSoonThresholdDays:
			addAlert(fmt.Sprintf("Due in %d day(s) on %s", row.daysToDue, formatDate(row.dueDate, true)))
		}
	}
	if row.status == "not_submitted" {
		addAlert("Batch flagged as not submitted")
	}
	if row.status == "ready_to_work" {
		addAlert("Batch ready for rework – assign processor")
	}
	if row.processor == "" {
		addAlert("No processor assigned in worksheet")
	}
	if finalRejectionAmount > 0 {
		addAlert(fmt.Sprintf("Final rejection total %s", formatCurrency(finalRejectionAmount, true)))
	}
	if row.hasFinalRejectionPct && row.finalRejectionPercent >= compliancePercentThreshold {
		addAlert(fmt.Sprintf("Rejection ratio %s exceeds threshold", formatPercent(row.finalRejectionPercent, true)))
	}
	if recoveryAmount > 0 {
		addAlert(fmt.Sprintf("Recovery amount outstanding %s", formatCurrency(recoveryAmount, true)))
	}

	shouldAlert := len(alerts) > 0

	priority := teamsevent.PriorityInfo
	switch {
	case row.hasDaysToDue && row.daysToDue < 0:
		overdueDays := abs(row.daysToDue)
		if overdueDays >= criticalOverdueThresholdDays || finalRejectionAmount >= highRejectionAmount {
			priority = teamsevent.PriorityCritical
		} else {
			priority = teamsevent.PriorityHigh
		}
	case row.status == "not_submitted":
		priority = teamsevent.PriorityHigh
	case row.status == "ready_to_work":
		priority = teamsevent.PriorityMedium
	case finalRejectionAmount >= highRejectionAmount:
		priority = teamsevent.PriorityHigh
	case finalRejectionAmount >= mediumRejectionAmount || hasDueSoonAlert(alerts):
		priority = teamsevent.PriorityMedium
	}

	stakeholders := []teamsevent.StakeholderGroup{teamsevent.NPHIESIntegration}
	if priority == teamsevent.PriorityCritical || priority == teamsevent.PriorityHigh {
		stakeholders = append(stakeholders, teamsevent.PMO)
	}
	if row.hasFinalRejectionPct && row.finalRejectionPercent >= compliancePercentThreshold {
		stakeholders = append(stakeholders, teamsevent.Compliance)
	} else if finalRejectionAmount >= highRejectionAmount {
		stakeholders = append(stakeholders, teamsevent.Compliance)
	}
	stakeholders = dedupeStakeholders(stakeholders)

	portalResources := p.Portal.GetResources(row.branchKey)
	portals := []map[string]any{
		{"name": "Daily Follow-up Worksheet", "description": worksheetDescription(row)},
	}
	for _, resource := range portalResources {
		entry := map[string]any{"name": resource.Name}
		if resource.URL != "" {
			entry["url"] = resource.URL
		}
		if resource.Description != "" {
			entry["description"] = resource.Description
		}
		if !containsPortalEntry(portals, entry) {
			portals = append(portals, entry)
		}
	}

	correlationID := row.batchNo
	if correlationID == "" {
		correlationID = fallbackCorrelationID(row, p.Today)
	}

	data := map[string]any{
		"branch":                           row.branch,
		"status_display":                   row.statusDisplay,
		"status_raw":                       row.statusRaw,
		"insurance_company":                row.insuranceCompany,
		"batch_no":                         row.batchNo,
		"processor":                        row.processor,
		"rework_type":                      row.reworkType,
		"batch_type":                       row.batchType,
		"billing_month":                    row.billingMonth,
		"billing_year":                     optionalInt(row.year, row.hasYear),
		"due_date_display":                 formatDate(row.dueDate, row.hasDueDate),
		"received_date_display":            formatDate(row.receivedDate, row.hasReceivedDate),
		"resubmission_date_display":        formatDate(row.resubmissionDate, row.hasResubmissionDate),
		"billing_amount_display":           formatCurrency(row.billingAmount, row.hasBillingAmount),
		"approved_to_pay_display":          formatCurrency(row.approvedToPay, row.hasApprovedToPay),
		"final_rejection_display":          formatCurrency(row.finalRejectionAmount, row.hasFinalRejection),
		"final_rejection_percent_display":  formatPercent(row.finalRejectionPercent, row.hasFinalRejectionPct),
		"recovery_amount_display":          formatCurrency(row.recoveryAmount, row.hasRecoveryAmount),
		"alerts":                           alerts,
		"portal_resources":                 portals,
		"days_until_due":                   optionalInt(row.daysToDue, row.hasDaysToDue),
	}

	return AlertContext{
		ShouldAlert:   shouldAlert,
		Priority:      priority,
		Stakeholders:  stakeholders,
		CorrelationID: correlationID,
		Data:          data,
		Branch:        row.branch,
		Status:        row.status,
	}
}

func (p *Processor) buildEvent(ctx AlertContext) teamsevent.Event {
	return teamsevent.Event{
		EventType:     teamsevent.FollowUpBatchStatus,
		CorrelationID: ctx.CorrelationID,
		Timestamp:     p.Today,
		Priority:      ctx.Priority,
		Stakeholders:  ctx.Stakeholders,
		Data:          ctx.Data,
	}
}

func hasDueSoonAlert(alerts []string) bool {
	for _, a := range alerts {
		if strings.HasPrefix(a, "Due in") {
			return true
		}
	}
	return false
}

func dedupeStakeholders(in []teamsevent.StakeholderGroup) []teamsevent.StakeholderGroup {
	seen := map[teamsevent.StakeholderGroup]bool{}
	out := make([]teamsevent.StakeholderGroup, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func containsPortalEntry(portals []map[string]any, candidate map[string]any) bool {
	for _, existing := range portals {
		if len(existing) != len(candidate) {
			continue
		}
		match := true
		for k, v := range existing {
			if candidate[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func optionalInt(value int, ok bool) any {
	if !ok {
		return nil
	}
	return value
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func fallbackCorrelationID(row normalizedRow, today time.Time) string {
	branchSlug := slugify(row.branchKey)
	if branchSlug == "" {
		branchSlug = "branch"
	}
	payerSlug := slugify(row.insuranceCompany)
	if payerSlug == "" {
		payerSlug = "payer"
	}
	monthSlug := slugify(row.billingMonth)
	if monthSlug == "" {
		monthSlug = "month"
	}
	year := row.year
	if !row.hasYear {
		year = today.Year()
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("followup-%s-%s-%d-%s-%s", branchSlug, payerSlug, year, monthSlug, suffix)
}

func worksheetDescription(row normalizedRow) string {
	var pieces []string
	if row.billingMonth != "" {
		pieces = append(pieces, row.billingMonth)
	}
	if row.hasYear {
		pieces = append(pieces, strconv.Itoa(row.year))
	}
	if row.insuranceCompany != "" {
		pieces = append(pieces, row.insuranceCompany)
	}
	if row.batchNo != "" {
		pieces = append(pieces, "Batch "+row.batchNo)
	}
	if len(pieces) == 0 {
		return "Worksheet reference"
	}
	return strings.Join(pieces, " · ")
}
