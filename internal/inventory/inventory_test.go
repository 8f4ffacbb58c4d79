package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("content"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func paths(inv Inventory) []string {
	out := make([]string, len(inv.Files))
	for i, f := range inv.Files {
		out[i] = filepath.ToSlash(f.Path)
	}
	return out
}

func fixture(t *testing.T) string {
	root := t.TempDir()
	touch(t, root,
		"Wang_812409_20250402.docx",
		"Chen_812410_20250510.PDF",
		"notes.txt",
		"summary.xlsx",
		"~$Wang_812409_20250402.docx",
		".hidden.pdf",
		"2025/q2/Li_812411_20250601.pdf",
		".git/objects/x.pdf",
		"archive/uploads/old.pdf",
	)
	return root
}

func TestScan_TopLevel(t *testing.T) {
	inv, err := Scan(fixture(t), Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := strings.Join(paths(inv), ",")
	want := "Chen_812410_20250510.PDF,Wang_812409_20250402.docx,notes.txt"
	if got != want {
		t.Errorf("files = %s, want %s", got, want)
	}
	if inv.Files[0].Format != "PDF" || inv.Files[1].Format != "Word" || inv.Files[2].Format != "Text" {
		t.Errorf("formats = %+v", inv.Files)
	}
	if inv.Files[0].Size != int64(len("content")) || !filepath.IsAbs(inv.Files[0].Abs) {
		t.Errorf("entry = %+v", inv.Files[0])
	}
}

func TestScan_Recursive(t *testing.T) {
	inv, err := Scan(fixture(t), Options{Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := paths(inv)
	if len(got) != 4 || got[0] != "2025/q2/Li_812411_20250601.pdf" {
		t.Errorf("files = %v", got)
	}
	inv, _ = Scan(fixture(t), Options{Recursive: true, Ignore: []string{"2025"}})
	if len(inv.Files) != 3 {
		t.Errorf("ignore list not applied: %v", paths(inv))
	}
}

func TestScan_PatternAndCap(t *testing.T) {
	inv, err := Scan(fixture(t), Options{Pattern: "*_8124*", MaxFiles: 1})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := paths(inv); len(got) != 1 || got[0] != "Chen_812410_20250510.PDF" {
		t.Errorf("files = %v", got)
	}
	if inv.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", inv.Skipped)
	}
	if s := inv.Summary(); !strings.Contains(s, "1 more documents") || !strings.Contains(s, "Chen_812410_20250510.PDF (PDF, 7 bytes)") {
		t.Errorf("Summary:\n%s", s)
	}

	if _, err := Scan(t.TempDir(), Options{Pattern: "[bad"}); err == nil {
		t.Error("expected an error for a malformed pattern")
	}
}

func TestScan_MissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Error("expected an error for a missing root")
	}
}
