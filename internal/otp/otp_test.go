package otp

import (
	"testing"
)

func TestGenerateLength(t *testing.T) {
	tests := []struct {
		name   string
		digits int
	}{
		{"four digits", 4},
		{"six digits", 6},
		{"ten digits", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := Generate(tt.digits)
			if err != nil {
				t.Fatalf("Generate(%d) error: %v", tt.digits, err)
			}
			if len(code) != tt.digits {
				t.Errorf("Generate(%d) = %q, want %d characters", tt.digits, code, tt.digits)
			}
			for _, r := range code {
				if r < '0' || r > '9' {
					t.Errorf("Generate(%d) = %q, contains non-digit %q", tt.digits, code, r)
				}
			}
		})
	}
}

func TestGenerateInvalidDigits(t *testing.T) {
	if _, err := Generate(0); err == nil {
		t.Error("Generate(0) should fail")
	}
	if _, err := Generate(-1); err == nil {
		t.Error("Generate(-1) should fail")
	}
}

func TestGeneratePreservesLeadingZeros(t *testing.T) {
	// With 2000 six-digit draws the chance of never seeing a leading
	// zero is (0.9)^2000, effectively impossible.
	seen := false
	for i := 0; i < 2000; i++ {
		code, err := Generate(6)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("Generate(6) = %q, want 6 characters", code)
		}
		if code[0] == '0' {
			seen = true
			break
		}
	}
	if !seen {
		t.Error("no leading zero observed in 2000 draws, codes are likely truncated")
	}
}

func TestGenerateNotConstant(t *testing.T) {
	first, err := Generate(6)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	for i := 0; i < 50; i++ {
		code, err := Generate(6)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if code != first {
			return
		}
	}
	t.Error("Generate returned the same code 50 times in a row")
}
