package flow

import (
	"regexp"
	"strings"

	"flow-runner/internal/models"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute replaces {{name}} placeholders in the block's URL, params,
// headers and body. Unknown names are left as they are.
func Substitute(block models.Block, vars map[string]string) models.Block {
	if len(vars) == 0 {
		return block
	}

	replace := func(s string) string {
		if !strings.Contains(s, "{{") {
			return s
		}
		return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]
			if value, ok := vars[name]; ok {
				return value
			}
			return match
		})
	}

	out := block
	out.URL = replace(block.URL)
	out.Body = replace(block.Body)
	out.Params = substituteRows(block.Params, replace)
	out.Headers = substituteRows(block.Headers, replace)
	return out
}

func substituteRows(rows []models.KeyValue, replace func(string) string) []models.KeyValue {
	if rows == nil {
		return nil
	}
	out := make([]models.KeyValue, len(rows))
	for i, row := range rows {
		out[i] = models.KeyValue{
			Key:     replace(row.Key),
			Value:   replace(row.Value),
			Enabled: row.Enabled,
		}
	}
	return out
}

// Extract applies the enabled extraction rules to a JSON response body and
// returns the values found. Paths use gjson syntax (data.token, items.0.id)
// with an optional "$." prefix; rules that do not resolve, or resolve to
// null, are skipped.
func Extract(body string, rules []models.ExtractionRule) map[string]string {
	values := make(map[string]string)
	if len(rules) == 0 || !gjson.Valid(body) {
		return values
	}

	for _, rule := range rules {
		if !rule.Enabled || rule.VariableName == "" {
			continue
		}
		result := gjson.Get(body, normalizePath(rule.JSONPath))
		if !result.Exists() || result.Type == gjson.Null {
			continue
		}
		values[rule.VariableName] = result.String()
	}
	return values
}

func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	return path
}

func mergeVariables(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
