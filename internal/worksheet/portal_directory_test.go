package worksheet

import (
	"path/filepath"
	"testing"

	"github.com/tealeg/xlsx"
)

func addRow(t *testing.T, sheet *xlsx.Sheet, values ...string) {
	t.Helper()
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		cell.Value = v
	}
}

func buildAccountsWorkbook(t *testing.T) string {
	t.Helper()
	file := xlsx.NewFile()

	moh, err := file.AddSheet("MOH")
	if err != nil {
		t.Fatalf("AddSheet MOH: %v", err)
	}
	addRow(t, moh, "Branch", "Link")
	addRow(t, moh, "Riyadh", "https://moh.example/riyadh")
	addRow(t, moh, "", "not-a-url")

	jisr, err := file.AddSheet("jisr")
	if err != nil {
		t.Fatalf("AddSheet jisr: %v", err)
	}
	addRow(t, jisr, "Branch", "Username")
	addRow(t, jisr, "Jizan", "jizan.user")

	remote, err := file.AddSheet("Remote")
	if err != nil {
		t.Fatalf("AddSheet Remote: %v", err)
	}
	addRow(t, remote, "Riyadh", "Jizan")
	addRow(t, remote, "10.0.0.1", "10.0.0.2")

	path := filepath.Join(t.TempDir(), "Accounts.xlsx")
	if err := file.Save(path); err != nil {
		t.Fatalf("save accounts workbook: %v", err)
	}
	return path
}

func TestPortalDirectoryLoadsPortalLinksAndCredentialsAndRemoteAccess(t *testing.T) {
	dir := NewPortalDirectory(buildAccountsWorkbook(t))

	riyadh := dir.GetResources("riyadh")
	if !containsResourceNamed(riyadh, "MOH Claim Portal") {
		t.Fatalf("expected MOH Claim Portal resource for riyadh, got %+v", riyadh)
	}
	if !containsResourceNamed(riyadh, "Remote Access") {
		t.Fatalf("expected Remote Access resource for riyadh, got %+v", riyadh)
	}
	if !containsResourceNamed(riyadh, "Accounts Workbook") {
		t.Fatalf("expected baseline Accounts Workbook resource, got %+v", riyadh)
	}

	jizan := dir.GetResources("jizan")
	if !containsResourceNamed(jizan, "Jisr Workforce Portal") {
		t.Fatalf("expected Jisr Workforce Portal resource for jizan, got %+v", jizan)
	}
}

func TestPortalDirectoryWithoutWorkbookYieldsBaselineOnly(t *testing.T) {
	dir := NewPortalDirectory("")
	resources := dir.GetResources("riyadh")
	if len(resources) != 1 || resources[0].Name != "Accounts Workbook" {
		t.Fatalf("expected only the baseline resource, got %+v", resources)
	}
}

func containsResourceNamed(resources []Resource, name string) bool {
	for _, r := range resources {
		if r.Name == name {
			return true
		}
	}
	return false
}
