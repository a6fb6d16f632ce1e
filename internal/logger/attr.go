package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers return an empty Attr for zero inputs so call sites need no nil checks.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Latency records request handling time.
func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}

// RequestID creates an attribute for HTTP request IDs.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// UserID identifies the guest or account an action belongs to.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// SessionID identifies an anonymous session.
func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("session_id", id)
}

// Fingerprint identifies a device by its fingerprint hash.
func Fingerprint(hash string) slog.Attr {
	if hash == "" {
		return slog.Attr{}
	}
	return slog.String("fingerprint", hash)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func ClientIP(ip string) slog.Attr {
	return slog.String("client_ip", ip)
}

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Provider names an upstream API.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Activity names a billable action.
func Activity(name string) slog.Attr {
	return slog.String("activity", name)
}

// Tokens records a token amount.
func Tokens(n int) slog.Attr {
	return slog.Int("tokens", n)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
