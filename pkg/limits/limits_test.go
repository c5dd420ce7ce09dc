package limits

import (
	"errors"
	"strings"
	"testing"

	"github.com/gemshare/gemshare/pkg/models"
)

func TestParse(t *testing.T) {
	input := `2
podA 0.2 0.8 30 1073741824
podB 0.5 1.0 50 2147483648
`
	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	a := entries[0]
	if a.Name != "podA" || a.MinFraction != 0.2 || a.MaxFraction != 0.8 {
		t.Errorf("Unexpected first entry: %+v", a)
	}
	if a.SMPartition != 30 || a.MemLimitBytes != 1073741824 {
		t.Errorf("Unexpected first entry resources: %+v", a)
	}

	b := entries[1]
	if b.Name != "podB" || b.MemLimitBytes != 2147483648 {
		t.Errorf("Unexpected second entry: %+v", b)
	}
}

func TestParseIgnoresLineBreaks(t *testing.T) {
	// Tokens may be split across lines arbitrarily
	input := "1 podA\n0.1\n0.9 20\n536870912"
	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "podA" {
		t.Fatalf("Unexpected entries: %+v", entries)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"EmptyInput", ""},
		{"BadCount", "x\n"},
		{"NegativeCount", "-1\n"},
		{"TruncatedEntry", "2\npodA 0.2 0.8 30 1024\npodB 0.5\n"},
		{"BadFraction", "1\npodA min 0.8 30 1024\n"},
		{"BadMemory", "1\npodA 0.2 0.8 30 lots\n"},
		{"MinAboveMax", "1\npodA 0.9 0.2 30 1024\n"},
		{"NegativeFraction", "1\npodA -0.1 0.8 30 1024\n"},
		{"PartitionOver100", "1\npodA 0.2 0.8 120 1024\n"},
		{"NameTooLong", "1\n" + strings.Repeat("x", 64) + " 0.2 0.8 30 1024\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil {
				t.Errorf("Expected error for %q", tt.input)
			}
		})
	}
}

func TestParseIgnoresTrailingTokens(t *testing.T) {
	// Only the declared count is read; extra rows are ignored
	input := "1\npodA 0.2 0.8 30 1024\npodB 0.5 1.0 50 2048\n"
	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
}

func TestRegistryUpsert(t *testing.T) {
	r := NewRegistry()

	r.Apply([]models.ClientLimit{
		{Name: "podA", MinFraction: 0.2, MaxFraction: 0.8, SMPartition: 30, MemLimitBytes: 1024},
		{Name: "podB", MinFraction: 0.5, MaxFraction: 1.0, SMPartition: 50, MemLimitBytes: 2048},
	})
	if r.Len() != 2 {
		t.Fatalf("Expected 2 clients, got %d", r.Len())
	}

	// Re-applying with one client updated and one missing keeps the other
	r.Apply([]models.ClientLimit{
		{Name: "podA", MinFraction: 0.3, MaxFraction: 0.9, SMPartition: 40, MemLimitBytes: 4096},
	})
	if r.Len() != 2 {
		t.Errorf("Reload should not remove clients, got %d", r.Len())
	}

	a, err := r.Get("podA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.MinFraction != 0.3 || a.MemLimitBytes != 4096 {
		t.Errorf("Entry not updated: %+v", a)
	}

	if _, err := r.Get("podZ"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Expected ErrUnknownClient, got %v", err)
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Apply([]models.ClientLimit{
		{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"},
	})

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].Name != "alpha" || all[1].Name != "mid" || all[2].Name != "zeta" {
		t.Errorf("Entries not sorted by name: %v", all)
	}
}

func TestParseFileMissing(t *testing.T) {
	if _, err := ParseFile("/nonexistent/resource-config.txt"); err == nil {
		t.Error("Expected error for missing file")
	}
}
