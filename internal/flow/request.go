package flow

import (
	"net/http"
	"net/url"
	"strings"

	"flow-runner/internal/models"
)

// BuildRequest turns a block definition into the request handed to the
// request service. It never fails: a URL that cannot be parsed is passed
// through unchanged and the transport reports the problem.
func BuildRequest(block models.Block, fallbackURL string) models.ExecutionRequest {
	targetURL := block.URL

	var params []models.KeyValue
	for _, p := range block.Params {
		if p.Active() {
			params = append(params, p)
		}
	}
	if len(params) > 0 && targetURL != "" {
		if withParams, ok := appendQuery(targetURL, params); ok {
			targetURL = withParams
		}
	}

	headers := make(map[string]string)
	for _, h := range block.Headers {
		if h.Active() {
			headers[h.Key] = h.Value
		}
	}

	isGet := strings.ToUpper(block.Method) == http.MethodGet

	// A JSON content type replaces whatever the user set, in any casing.
	if !isGet && strings.TrimSpace(block.Body) != "" {
		for key := range headers {
			if strings.EqualFold(key, "Content-Type") {
				delete(headers, key)
			}
		}
		headers["Content-Type"] = "application/json"
	}

	req := models.ExecutionRequest{
		Method:  block.Method,
		URL:     targetURL,
		Headers: headers,
	}
	if !isGet {
		body := block.Body
		req.Body = &body
	}
	if req.URL == "" {
		req.URL = fallbackURL
	}
	return req
}

func appendQuery(rawURL string, params []models.KeyValue) (string, bool) {
	base := rawURL
	if !hasHTTPScheme(base) {
		base = "https://" + base
	}

	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", false
	}

	var query strings.Builder
	query.WriteString(u.RawQuery)
	for _, p := range params {
		if query.Len() > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(p.Key))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(p.Value))
	}
	u.RawQuery = query.String()
	return u.String(), true
}

func hasHTTPScheme(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
