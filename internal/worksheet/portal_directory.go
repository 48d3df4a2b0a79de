package worksheet

import (
	"os"
	"strings"

	"github.com/tealeg/xlsx"
)

// Resource describes a portal/channel reference surfaced alongside a
// worksheet alert: a URL, a masked credential hint, or a remote-desktop
// address. Grounded on PortalDirectory._add_resource.
type Resource struct {
	Name        string
	URL         string
	Description string
}

type resourceKey struct {
	name, url, description string
}

// PortalDirectory loads branch-scoped portal/credential context from the
// companion accounts workbook (MOH, Oasis, jisr, Bupa, Remote sheets).
type PortalDirectory struct {
	resources map[string][]Resource
	seen      map[string]map[resourceKey]bool
}

// NewPortalDirectory loads the accounts workbook at path, if non-empty
// and present. A missing or empty path yields a directory carrying only
// the baseline "refer to the workbook" resource.
func NewPortalDirectory(path string) *PortalDirectory {
	d := &PortalDirectory{
		resources: map[string][]Resource{},
		seen:      map[string]map[resourceKey]bool{},
	}
	d.addResource("all", Resource{
		Name:        "Accounts Workbook",
		Description: "Refer to Accounts.xlsx for the complete credential and portal mapping.",
	})
	if path == "" {
		return d
	}
	if _, err := os.Stat(path); err != nil {
		return d
	}
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return d
	}
	if sheet, ok := file.Sheet["MOH"]; ok {
		d.parsePortalSheet(sheet, "MOH Claim Portal")
	}
	if sheet, ok := file.Sheet["Oasis"]; ok {
		d.parsePortalSheet(sheet, "Oasis Portal")
	}
	if sheet, ok := file.Sheet["jisr"]; ok {
		d.parseCredentialsSheet(sheet, "Jisr Workforce Portal", "User")
	}
	if sheet, ok := file.Sheet["Bupa"]; ok {
		d.parseCredentialsSheet(sheet, "Bupa Claims Portal", "Account")
	}
	if sheet, ok := file.Sheet["Remote"]; ok {
		d.parseRemoteSheet(sheet)
	}
	return d
}

// GetResources returns the resources scoped to branch, plus every
// branch-less ("all") resource. branch may be empty.
func (d *PortalDirectory) GetResources(branch string) []Resource {
	key := branch
	if key == "" {
		key = "all"
	}
	var out []Resource
	out = append(out, d.resources[key]...)
	if key != "all" {
		out = append(out, d.resources["all"]...)
	}
	return out
}

func (d *PortalDirectory) parsePortalSheet(sheet *xlsx.Sheet, portalName string) {
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		branches := map[string]bool{}
		var urls []string
		for _, cell := range row.Cells {
			value := cell.Value
			if branch, ok := normalizeBranchName(value); ok {
				branches[branch] = true
			}
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "http") {
				urls = append(urls, strings.TrimSpace(value))
			}
		}
		if len(urls) == 0 {
			continue
		}
		targets := branches
		if len(targets) == 0 {
			targets = map[string]bool{"all": true}
		}
		for _, url := range urls {
			for branch := range targets {
				d.addResource(branch, Resource{Name: portalName, URL: url, Description: "Portal link"})
			}
		}
	}
}

func (d *PortalDirectory) parseCredentialsSheet(sheet *xlsx.Sheet, portalName, descriptionPrefix string) {
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		if len(row.Cells) == 0 {
			continue
		}
		branch, ok := normalizeBranchName(row.Cells[0].Value)
		if !ok {
			continue
		}
		var username string
		if len(row.Cells) > 1 {
			username = row.Cells[1].Value
		}
		hint := maskValue(username)
		description := descriptionPrefix + " hint: " + hint + ". Credentials stored securely."
		d.addResource(branch, Resource{Name: portalName, Description: description})
	}
}

func (d *PortalDirectory) parseRemoteSheet(sheet *xlsx.Sheet) {
	if len(sheet.Rows) == 0 {
		return
	}
	headers := sheet.Rows[0].Cells
	for col, header := range headers {
		branch, ok := normalizeBranchName(header.Value)
		if !ok {
			continue
		}
		if len(sheet.Rows) < 2 || col >= len(sheet.Rows[1].Cells) {
			continue
		}
		ip, ok := cleanString(sheet.Rows[1].Cells[col].Value)
		if !ok {
			continue
		}
		d.addResource(branch, Resource{Name: "Remote Access", Description: "Remote desktop IP: " + ip})
	}
}

func (d *PortalDirectory) addResource(branch string, r Resource) {
	key := resourceKey{
		name:        strings.ToLower(r.Name),
		url:         strings.ToLower(r.URL),
		description: strings.ToLower(r.Description),
	}
	if d.seen[branch] == nil {
		d.seen[branch] = map[resourceKey]bool{}
	}
	if d.seen[branch][key] {
		return
	}
	d.seen[branch][key] = true
	d.resources[branch] = append(d.resources[branch], r)
}

func maskValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "***"
	}
	if len(trimmed) <= 3 {
		return trimmed + "***"
	}
	return trimmed[:3] + "***"
}
