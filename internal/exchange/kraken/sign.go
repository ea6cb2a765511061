package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Sign computes the API-Sign header:
// base64(HMAC-SHA512(base64decode(secret), path + SHA256(nonce + postdata))).
func Sign(path, nonce, postdata, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	sum := sha256.Sum256([]byte(nonce + postdata))

	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// nextNonce returns Unix milliseconds, bumped when two calls land in the
// same millisecond.
func (c *Client) nextNonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	n := c.now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return strconv.FormatInt(n, 10)
}
