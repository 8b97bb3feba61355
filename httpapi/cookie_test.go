package httpapi

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T, now time.Time) *cookieCodec {
	t.Helper()
	c, err := newCookieCodec(Options{
		CookieName:   "sid",
		CookieSecret: bytes.Repeat([]byte("s"), 32),
		CookieIssuer: "authgate",
		CookieTTL:    time.Hour,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	return c
}

func TestCookieCodecRoundTrip(t *testing.T) {
	c := testCodec(t, time.Now())

	value, err := c.encode("session-1")
	require.NoError(t, err)
	sid, err := c.decode(value)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sid)
}

func TestCookieCodecRejects(t *testing.T) {
	now := time.Now()
	c := testCodec(t, now)
	valid, err := c.encode("session-1")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := testCodec(t, now.Add(2*time.Hour))
		_, err := later.decode(valid)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(valid, ".")
		require.Len(t, parts, 3)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"sid":"other","exp":9999999999}`))
		_, err := c.decode(strings.Join(parts, "."))
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := testCodec(t, now)
		other.issuer = "someone-else"
		_, err := other.decode(valid)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
			SID:              "session-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)), Issuer: "authgate"},
		})
		unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = c.decode(unsigned)
		assert.Error(t, err)
	})

	t.Run("missing sid", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)), Issuer: "authgate"},
		})
		signed, err := tok.SignedString(c.secret)
		require.NoError(t, err)
		_, err = c.decode(signed)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidClaims)
	})
}

func TestCookieCodecConfig(t *testing.T) {
	_, err := newCookieCodec(Options{CookieSecret: []byte("short"), CookieTTL: time.Hour})
	assert.Error(t, err)
	_, err = newCookieCodec(Options{CookieSecret: bytes.Repeat([]byte("s"), 32)})
	assert.Error(t, err)
}

func TestCookieWriteAndClear(t *testing.T) {
	c := testCodec(t, time.Now())
	c.secure = true

	rec := httptest.NewRecorder()
	require.NoError(t, c.write(rec, "session-1"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, "sid", ck.Name)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, 3600, ck.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	sid, err := c.read(req)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sid)

	rec = httptest.NewRecorder()
	c.clear(rec)
	assert.Negative(t, rec.Result().Cookies()[0].MaxAge)

	_, err = c.read(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, errNoSessionCookie)
}

func TestIPThrottle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	th := newIPThrottle(1, 2)
	th.now = func() time.Time { return now }

	assert.True(t, th.allow("a"))
	assert.True(t, th.allow("a"))
	assert.False(t, th.allow("a"))
	assert.True(t, th.allow("b"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.True(t, th.allow("a"), "one token refills per second")

	now = now.Add(time.Hour)
	assert.True(t, th.allow("c"))
	assert.Equal(t, 1, th.size(), "idle buckets are swept")
}

func TestIPThrottleDisabled(t *testing.T) {
	th := newIPThrottle(0, 10)
	require.Nil(t, th)
	for i := 0; i < 100; i++ {
		require.True(t, th.allow("a"))
	}
}

func TestQRDataURL(t *testing.T) {
	url, err := qrDataURL("otpauth://totp/authgate:ada@example.com?secret=JBSWY3DPEHPK3PXP&issuer=authgate")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, qrSize, img.Bounds().Dx())
}
