package internal

import (
	"strings"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != sid {
		t.Fatal("parsed id differs from original")
	}
	if _, err := ParseSessionID("short"); err == nil {
		t.Fatal("expected error for wrong-size id")
	}
	if _, err := ParseSessionID("not base64!"); err == nil {
		t.Fatal("expected error for invalid encoding")
	}
}

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if len(code) != digits || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("NewOTP(%d) = %q", digits, code)
		}
	}
	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("NewOTP(%d) should fail", digits)
		}
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken failed: %v", err)
	}
	b, _ := RandomToken(32)
	if a == b {
		t.Fatal("two tokens collided")
	}
	if len(a) != 43 || strings.ContainsAny(a, "+/=") {
		t.Fatalf("token %q is not unpadded base64url of 32 bytes", a)
	}
	if _, err := RandomToken(8); err == nil {
		t.Fatal("expected error below minimum size")
	}
	if _, err := RandomToken(65); err == nil {
		t.Fatal("expected error above maximum size")
	}
}

func TestHashSecretIsDeterministic(t *testing.T) {
	if HashSecret("123456") != HashSecret("123456") {
		t.Fatal("same input hashed differently")
	}
	if HashSecret("123456") == HashSecret("123457") {
		t.Fatal("different inputs hashed the same")
	}
}

func TestNewOTPDigitSpread(t *testing.T) {
	var seen [10]int
	for i := 0; i < 200; i++ {
		code, err := NewOTP(10)
		if err != nil {
			t.Fatalf("NewOTP failed: %v", err)
		}
		for _, c := range code {
			seen[c-'0']++
		}
	}
	for d, n := range seen {
		if n == 0 {
			t.Fatalf("digit %d never produced in 2000 draws", d)
		}
	}
}
