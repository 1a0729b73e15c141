package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
// Deterministic, no side effects, no network access.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signQuery stamps the parameter set with timestamp and recvWindow, then
// appends the signature over the encoded query. The returned string is the
// final query ready to send.
func signQuery(secret string, params url.Values, now time.Time, recvWindow time.Duration) string {
	if params == nil {
		params = url.Values{}
	}
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))

	encoded := params.Encode()
	return encoded + "&signature=" + Sign(secret, encoded)
}
