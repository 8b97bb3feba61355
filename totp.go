package authgate

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

var errEmptyTOTPSecret = errors.New("empty totp secret")

type totpManager struct {
	config    TOTPConfig
	digits    otp.Digits
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	m := &totpManager{config: cfg, digits: otp.DigitsSix, algorithm: otp.AlgorithmSHA1}
	if cfg.Digits == 8 {
		m.digits = otp.DigitsEight
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		m.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		m.algorithm = otp.AlgorithmSHA512
	}
	return m
}

// GenerateSecret returns a fresh base32 secret and its otpauth:// URI
// labelled with accountName.
func (m *totpManager) GenerateSecret(accountName string) (string, string, error) {
	if m == nil {
		return "", "", ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks code against every time step within Skew of now and
// returns the counter of the step that matched.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}
	if secret == "" {
		return false, 0, errEmptyTOTPSecret
	}

	code = strings.TrimSpace(code)
	if len(code) != m.digits.Length() || !isNumericString(code) {
		return false, 0, nil
	}

	period := int64(m.config.Period)
	opts := totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Digits:    m.digits,
		Algorithm: m.algorithm,
	}
	base := now.Unix() / period
	skew := int64(m.config.Skew)
	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
