// Package fingerprint derives the device identifier used to limit guest
// sessions per device. The hash is a heuristic signal, not an identity proof:
// devices reporting identical attributes share a fingerprint.
package fingerprint

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/term"
)

// Version is reported in the local user agent.
var Version = "dev"

// Attributes are the environment properties a fingerprint is computed from.
type Attributes struct {
	UserAgent        string `json:"userAgent"`
	ScreenResolution string `json:"screenResolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// DeviceFingerprint is the hash together with the attributes it was built from.
type DeviceFingerprint struct {
	Hash string `json:"hash"`
	Attributes
}

// Generate hashes the attributes. Same attributes always give the same hash.
func Generate(attrs Attributes) DeviceFingerprint {
	return DeviceFingerprint{
		Hash:       Hash(attrs.String()),
		Attributes: attrs,
	}
}

// String joins the attributes in fingerprint order.
func (a Attributes) String() string {
	return strings.Join([]string{
		a.UserAgent,
		a.ScreenResolution,
		a.Timezone,
		a.Language,
		a.Platform,
	}, "|")
}

// Hash folds s through a 32-bit rolling hash (h*31 + c over UTF-16 code
// units, wrapping at 32 bits) and returns the absolute value in base 36.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Local collects attributes describing the running process and terminal.
func Local() Attributes {
	return Attributes{
		UserAgent:        fmt.Sprintf("avatar-studio/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH),
		ScreenResolution: screenResolution(),
		Timezone:         timezone(),
		Language:         language(),
		Platform:         runtime.GOOS,
	}
}

// Header names the studio client uses to report attributes browsers expose natively.
const (
	HeaderScreenResolution = "X-Screen-Resolution"
	HeaderTimezone         = "X-Timezone"
	HeaderPlatform         = "Sec-CH-UA-Platform"
)

// FromRequest reads attributes from request headers.
func FromRequest(r *http.Request) Attributes {
	lang := r.Header.Get("Accept-Language")
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	return Attributes{
		UserAgent:        r.UserAgent(),
		ScreenResolution: r.Header.Get(HeaderScreenResolution),
		Timezone:         r.Header.Get(HeaderTimezone),
		Language:         strings.TrimSpace(lang),
		Platform:         strings.Trim(r.Header.Get(HeaderPlatform), `"`),
	}
}

// Apply sets the attribute headers on an outgoing request.
func (a Attributes) Apply(req *http.Request) {
	req.Header.Set("User-Agent", a.UserAgent)
	req.Header.Set(HeaderScreenResolution, a.ScreenResolution)
	req.Header.Set(HeaderTimezone, a.Timezone)
	req.Header.Set("Accept-Language", a.Language)
	req.Header.Set(HeaderPlatform, `"`+a.Platform+`"`)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns "session_" + 9 random base-36 characters + "_" + unix millis.
// Uniqueness is probabilistic; the server rejects duplicates.
func NewSessionID(now time.Time) string {
	var b strings.Builder
	b.WriteString("session_")
	buf := make([]byte, 16)
	for n := 0; n < 9; {
		rand.Read(buf)
		for _, c := range buf {
			// 252 is the largest multiple of 36 that fits in a byte
			if c >= 252 || n == 9 {
				continue
			}
			b.WriteByte(base36[c%36])
			n++
		}
	}
	b.WriteString("_")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	return b.String()
}

func screenResolution() string {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return "0x0"
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func timezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	return time.Local.String()
}

func language() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// en_US.UTF-8 -> en-US
			v, _, _ = strings.Cut(v, ".")
			return strings.ReplaceAll(v, "_", "-")
		}
	}
	return "en-US"
}
