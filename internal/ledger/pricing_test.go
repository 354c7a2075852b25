package ledger

import (
	"errors"
	"testing"
)

func TestLookupPackage(t *testing.T) {
	tests := []struct {
		id          string
		wantAmount  int
		wantCredits int
	}{
		{"1", 100, 50},
		{"5", 500, 300},
		{"10", 1000, 700},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			pkg, err := LookupPackage(tt.id)
			if err != nil {
				t.Fatalf("LookupPackage(%q) error = %v", tt.id, err)
			}
			if pkg.Amount != tt.wantAmount {
				t.Errorf("Amount = %d, want %d", pkg.Amount, tt.wantAmount)
			}
			if pkg.Credits != tt.wantCredits {
				t.Errorf("Credits = %d, want %d", pkg.Credits, tt.wantCredits)
			}
		})
	}
}

func TestLookupUnknownPackage(t *testing.T) {
	for _, id := range []string{"", "2", "100", "abc"} {
		if _, err := LookupPackage(id); !errors.Is(err, ErrUnknownPackage) {
			t.Errorf("LookupPackage(%q) error = %v, want ErrUnknownPackage", id, err)
		}
	}
}

func TestPackagesDisplayOrder(t *testing.T) {
	pkgs := Packages()
	if len(pkgs) != 3 {
		t.Fatalf("len(Packages()) = %d, want 3", len(pkgs))
	}
	for i, want := range []string{"1", "5", "10"} {
		if pkgs[i].ID != want {
			t.Errorf("Packages()[%d].ID = %q, want %q", i, pkgs[i].ID, want)
		}
	}
}
