package authgate

import (
	"encoding/base32"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func rfcManager(algorithm string) *totpManager {
	return newTOTPManager(TOTPConfig{
		Issuer:    "authgate",
		Digits:    8,
		Period:    30,
		Algorithm: algorithm,
		Skew:      0,
	})
}

func TestTOTPVerifyRFCVectors(t *testing.T) {
	cases := []struct {
		algorithm string
		secret    string
		vectors   map[int64]string
	}{
		{
			algorithm: "SHA1",
			secret:    "12345678901234567890",
			vectors: map[int64]string{
				59:          "94287082",
				1111111109:  "07081804",
				1234567890:  "89005924",
				20000000000: "65353130",
			},
		},
		{
			algorithm: "SHA256",
			secret:    "12345678901234567890123456789012",
			vectors: map[int64]string{
				59:         "46119246",
				1111111111: "67062674",
				2000000000: "90698825",
			},
		},
		{
			algorithm: "SHA512",
			secret:    "1234567890123456789012345678901234567890123456789012345678901234",
			vectors: map[int64]string{
				59:         "90693936",
				1234567890: "93441116",
				2000000000: "38618901",
			},
		},
	}

	for _, tc := range cases {
		m := rfcManager(tc.algorithm)
		secret := base32.StdEncoding.EncodeToString([]byte(tc.secret))
		for ts, code := range tc.vectors {
			ok, counter, err := m.VerifyCode(secret, code, time.Unix(ts, 0))
			if err != nil || !ok {
				t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, ts, ok, err)
			}
			if counter != ts/30 {
				t.Fatalf("%s: expected counter %d, got %d", tc.algorithm, ts/30, counter)
			}
		}
	}
}

func TestTOTPDriftWindow(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TOTP)
	secret := base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))
	now := time.Unix(1234567890, 0)

	cases := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current", 0, true},
		{"previous", -30 * time.Second, true},
		{"next", 30 * time.Second, true},
		{"two back", -60 * time.Second, false},
		{"two ahead", 60 * time.Second, false},
	}
	for _, tc := range cases {
		code, err := totp.GenerateCodeCustom(secret, now.Add(tc.offset), totp.ValidateOpts{
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			t.Fatalf("%s: GenerateCodeCustom failed: %v", tc.name, err)
		}
		ok, _, err := m.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, ok)
		}
	}
}

func TestTOTPMalformedCodesRejected(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TOTP)
	secret := base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	for _, code := range []string{"", "12345", "1234567", "12a456", "١٢٣٤٥٦"} {
		ok, _, err := m.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", code, err)
		}
		if ok {
			t.Fatalf("%q: expected rejection", code)
		}
	}

	if _, _, err := m.VerifyCode("", "123456", time.Now()); !errors.Is(err, errEmptyTOTPSecret) {
		t.Fatalf("expected errEmptyTOTPSecret, got %v", err)
	}
}

func TestTOTPGenerateSecret(t *testing.T) {
	cfg := DefaultConfig().TOTP
	cfg.Issuer = "Example"
	m := newTOTPManager(cfg)

	secret, uri, err := m.GenerateSecret("ada@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		t.Fatalf("NewKeyFromURL failed: %v", err)
	}
	if key.Issuer() != "Example" || key.AccountName() != "ada@example.com" || key.Secret() != secret {
		t.Fatalf("unexpected key %s", key.String())
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if ok, _, err := m.VerifyCode(secret, code, time.Now()); err != nil || !ok {
		t.Fatalf("fresh secret failed to verify: ok=%v err=%v", ok, err)
	}

	other, _, err := m.GenerateSecret("ada@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if other == secret {
		t.Fatal("expected distinct secrets")
	}
}
