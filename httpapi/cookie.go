package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoSessionCookie = errors.New("no session cookie")

// sessionClaims is the signed cookie payload. The cookie only names the
// server-side session; all auth state lives in Redis.
type sessionClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// cookieCodec signs session ids into an HS256 JWT carried in a cookie.
type cookieCodec struct {
	name   string
	secret []byte
	issuer string
	ttl    time.Duration
	secure bool
	leeway time.Duration
	now    func() time.Time
}

func newCookieCodec(opts Options) (*cookieCodec, error) {
	if len(opts.CookieSecret) < 32 {
		return nil, errors.New("cookie secret must be at least 32 bytes")
	}
	if opts.CookieTTL <= 0 {
		return nil, errors.New("invalid cookie TTL")
	}
	return &cookieCodec{
		name:   opts.CookieName,
		secret: opts.CookieSecret,
		issuer: opts.CookieIssuer,
		ttl:    opts.CookieTTL,
		secure: opts.SecureCookie,
		leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

func (c *cookieCodec) encode(sid string) (string, error) {
	now := c.now()
	claims := sessionClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *cookieCodec) decode(value string) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(value, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.SID == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.SID, nil
}

// read returns the session id from the request cookie.
func (c *cookieCodec) read(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return "", errNoSessionCookie
	}
	return c.decode(ck.Value)
}

func (c *cookieCodec) write(w http.ResponseWriter, sid string) error {
	value, err := c.encode(sid)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *cookieCodec) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
