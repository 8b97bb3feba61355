// Package rate provides the Redis fixed-window counter (INCR, then EXPIRE on
// the first hit) and the failed-login throttle built on it. Login windows are
// keyed per username under <prefix>:l: and per client IP under <prefix>:li:.
package rate
