package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("signature header missing")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

// VoiceTolerance bounds the age of a post-call webhook.
const VoiceTolerance = 30 * time.Minute

// VerifyVoiceSignature checks the voice vendor's "t=<unix>,v0=<hex>" header,
// where v0 is HMAC-SHA256 of "<t>.<body>". An empty secret skips verification.
func VerifyVoiceSignature(secret string, body []byte, header string, now time.Time) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return ErrMissingSignature
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v0":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > VoiceTolerance || age < -VoiceTolerance {
		return ErrStaleSignature
	}

	if !hmac.Equal([]byte(SignVoice(secret, ts, body)), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignVoice computes the v0 signature.
func SignVoice(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VoiceHeader builds a full signature header, used by tests and the admin CLI.
func VoiceHeader(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v0=%s", ts, SignVoice(secret, ts, body))
}
