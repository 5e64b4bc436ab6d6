package cardnum

import (
	"strings"
	"testing"
)

func TestNumberFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		num, err := Number()
		if err != nil {
			t.Fatalf("Number: %v", err)
		}
		if len(num) != NumberLength {
			t.Fatalf("expected %d digits, got %d (%q)", NumberLength, len(num), num)
		}
		if !strings.HasPrefix(num, Prefix) {
			t.Fatalf("expected prefix %q, got %q", Prefix, num)
		}
		for _, r := range num {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit %q in %q", r, num)
			}
		}
		seen[num] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("numbers are not random: %v", seen)
	}
}

func TestCVVFormat(t *testing.T) {
	cvv, err := CVV()
	if err != nil {
		t.Fatalf("CVV: %v", err)
	}
	if len(cvv) != CVVLength {
		t.Fatalf("expected %d digits, got %q", CVVLength, cvv)
	}
}

func TestSessionTokenUnique(t *testing.T) {
	a, err := SessionToken()
	if err != nil {
		t.Fatalf("SessionToken: %v", err)
	}
	b, err := SessionToken()
	if err != nil {
		t.Fatalf("SessionToken: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
	if len(a) < 40 {
		t.Fatalf("token too short to be unguessable: %q", a)
	}
}
