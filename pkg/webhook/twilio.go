package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// VerifyTwilioSignature checks X-Twilio-Signature: base64 HMAC-SHA1 of the
// full callback URL followed by every POST parameter (key then value) sorted
// by key. An empty auth token skips verification.
func VerifyTwilioSignature(authToken, fullURL string, form url.Values, signature string) error {
	if authToken == "" {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if !hmac.Equal([]byte(SignTwilio(authToken, fullURL, form)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func SignTwilio(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
