package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const localeEN = "en-US"

// signer produces the ACCESS-* headers for private endpoints.
type signer struct {
	key        string
	secret     string
	passphrase string
	locale     string
	now        func() time.Time
}

func newSigner(key, secret, passphrase string) *signer {
	return &signer{key: key, secret: secret, passphrase: passphrase, locale: localeEN, now: time.Now}
}

// sign is base64(HMAC-SHA256(secret, timestamp + METHOD + path + payload)).
// payload is "?" + query for GET requests and the JSON body otherwise.
func sign(secret, timestamp, method, requestPath, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *signer) headers(method, requestPath, rawQuery string, body []byte) http.Header {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	payload := string(body)
	if strings.EqualFold(method, http.MethodGet) {
		payload = ""
		if rawQuery != "" {
			payload = "?" + rawQuery
		}
	}

	h := make(http.Header)
	h.Set("ACCESS-KEY", s.key)
	h.Set("ACCESS-SIGN", sign(s.secret, ts, method, requestPath, payload))
	h.Set("ACCESS-TIMESTAMP", ts)
	h.Set("ACCESS-PASSPHRASE", s.passphrase)
	h.Set("locale", s.locale)
	return h
}
