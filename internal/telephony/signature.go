package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// ParamsKey is the echo context key holding the verified webhook form values.
const ParamsKey = "twilioParams"

// validSignature checks X-Twilio-Signature: base64(HMAC-SHA1(url + sorted key/value pairs)).
func validSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(sign(authToken, fullURL, params)))
}

func sign(authToken, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// publicURL is the URL Twilio signed: PUBLIC_BASE_URL when set, otherwise
// rebuilt from forwarding headers or the request host.
func publicURL(r *http.Request, baseURL, path string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + path
	}
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// SignatureAuth validates Twilio webhook requests and stores their form
// values under ParamsKey.
func SignatureAuth(authToken, baseURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := c.Request().Header.Get("X-Twilio-Signature")
			if !validSignature(authToken, signature, publicURL(c.Request(), baseURL, c.Request().URL.RequestURI()), params) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}
			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}
