// Package token issues and verifies the HMAC admission tokens embedded in media relay URLs.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/homecam-relay/internal/clock"
)

// Role is the media relay role a token admits.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleViewer    Role = "viewer"
)

// DefaultMaxAge is how long an issued token stays acceptable.
const DefaultMaxAge = 60 * time.Second

const secretMinBytes = 32

// Params identifies what a token grants.
type Params struct {
	Role     Role
	CameraID string
	ViewerID string
}

// Issued is a freshly signed token with its issuance instant in epoch milliseconds.
type Issued struct {
	Token string `json:"token"`
	TS    int64  `json:"ts"`
}

// Claim is what a socket presents at admission.
type Claim struct {
	Params
	TS    int64
	Token string
}

type HMACService struct {
	secret []byte
	maxAge time.Duration
	clock  clock.Clock
}

func NewHMACService(secret []byte, maxAge time.Duration) *HMACService {
	return NewHMACServiceWithClock(secret, maxAge, clock.RealClock{})
}

func NewHMACServiceWithClock(secret []byte, maxAge time.Duration, clk clock.Clock) *HMACService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &HMACService{
		secret: append([]byte(nil), secret...),
		maxAge: maxAge,
		clock:  clk,
	}
}

// MaxAge is the acceptance window.
func (s *HMACService) MaxAge() time.Duration {
	return s.maxAge
}

func (s *HMACService) Issue(p Params) (Issued, error) {
	if err := p.validate(); err != nil {
		return Issued{}, err
	}
	ts := s.clock.Now().UnixMilli()
	return Issued{
		Token: hex.EncodeToString(sign([]byte(canonical(p, ts)), s.secret)),
		TS:    ts,
	}, nil
}

// Verify fails closed: malformed input, a stale or future timestamp, or a signature
// mismatch all return false.
func (s *HMACService) Verify(c Claim) bool {
	if c.validate() != nil || c.Token == "" || c.TS <= 0 {
		return false
	}
	age := s.clock.Now().UnixMilli() - c.TS
	if age < 0 || age > s.maxAge.Milliseconds() {
		return false
	}
	provided, err := hex.DecodeString(c.Token)
	if err != nil {
		return false
	}
	expected := sign([]byte(canonical(c.Params, c.TS)), s.secret)
	return hmac.Equal(provided, expected)
}

func (p Params) validate() error {
	if p.CameraID == "" {
		return errors.New("token: cameraId required")
	}
	switch p.Role {
	case RolePublisher:
		return nil
	case RoleViewer:
		if p.ViewerID == "" {
			return errors.New("token: viewerId required for viewer role")
		}
		return nil
	default:
		return fmt.Errorf("token: unknown role %q", p.Role)
	}
}

func canonical(p Params, ts int64) string {
	var b strings.Builder
	b.WriteString("type=")
	b.WriteString(string(p.Role))
	b.WriteString("&cameraId=")
	b.WriteString(p.CameraID)
	b.WriteString("&ts=")
	b.WriteString(strconv.FormatInt(ts, 10))
	if p.ViewerID != "" {
		b.WriteString("&viewerId=")
		b.WriteString(p.ViewerID)
	}
	return b.String()
}

func sign(payload []byte, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// LoadSecret resolves MEDIA_TOKEN_SECRET. The raw value is used unless it decodes as base64 to at
// least 32 bytes. An empty value yields a random secret and generated=true, fit only for development.
func LoadSecret(raw string) (secret []byte, generated bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		secret = make([]byte, secretMinBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, false, err
		}
		return secret, true, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) >= secretMinBytes {
		return decoded, false, nil
	}
	if len(raw) < secretMinBytes {
		return nil, false, fmt.Errorf("token secret must be at least %d bytes", secretMinBytes)
	}
	return []byte(raw), false, nil
}
