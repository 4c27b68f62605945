package validator

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"flow-runner/internal/models"
)

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// ValidateFlow checks a flow definition before it is stored or run.
func ValidateFlow(flow *models.Flow, maxHeaderCount int) error {
	if strings.TrimSpace(flow.Name) == "" {
		return fmt.Errorf("flow name is required")
	}

	seen := make(map[string]bool, len(flow.Blocks))
	for i, block := range flow.Blocks {
		if strings.TrimSpace(block.ID) == "" {
			return fmt.Errorf("block %d: id is required", i)
		}
		if seen[block.ID] {
			return fmt.Errorf("block %d: duplicate id %q", i, block.ID)
		}
		seen[block.ID] = true

		if !allowedMethods[strings.ToUpper(block.Method)] {
			return fmt.Errorf("block %q: unsupported HTTP method: %s (allowed: GET, POST, PUT, PATCH, DELETE)",
				block.ID, block.Method)
		}
		if len(block.Headers) > maxHeaderCount {
			return fmt.Errorf("block %q has %d headers, exceeding limit of %d", block.ID, len(block.Headers), maxHeaderCount)
		}
		for _, rule := range block.Extract {
			if rule.Enabled && (rule.VariableName == "" || rule.JSONPath == "") {
				return fmt.Errorf("block %q: extraction rules need a json_path and a variable_name", block.ID)
			}
		}
	}
	return nil
}

// ValidatePostmanCollection validates the entire Postman collection
func ValidatePostmanCollection(data []byte, maxRequestSize int64, maxHeaderCount int) (*models.PostmanCollection, error) {
	if int64(len(data)) > maxRequestSize {
		return nil, fmt.Errorf("collection JSON exceeds maximum size of %d bytes", maxRequestSize)
	}

	var collection models.PostmanCollection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	if !isValidSchema(collection.Info.Schema) {
		return nil, fmt.Errorf("unsupported Postman schema version: %s (only v2.0 and v2.1 are supported)", collection.Info.Schema)
	}

	if len(collection.Item) == 0 {
		return nil, fmt.Errorf("collection must contain at least one item")
	}

	if err := validateItems(collection.Item, maxHeaderCount); err != nil {
		return nil, err
	}

	return &collection, nil
}

func isValidSchema(schema string) bool {
	validSchemas := []string{
		"https://schema.getpostman.com/json/collection/v2.0.0/collection.json",
		"https://schema.getpostman.com/json/collection/v2.1.0/collection.json",
		"https://schema.getpostman.com/json/collection/v2.0",
		"https://schema.getpostman.com/json/collection/v2.1",
	}
	for _, valid := range validSchemas {
		if schema == valid {
			return true
		}
	}
	return false
}

func validateItems(items []models.PostmanItem, maxHeaderCount int) error {
	for _, item := range items {
		if len(item.Item) > 0 {
			if err := validateItems(item.Item, maxHeaderCount); err != nil {
				return err
			}
		} else if item.Request != nil {
			if err := validateRequest(item.Request, maxHeaderCount); err != nil {
				return fmt.Errorf("invalid request '%s': %w", item.Name, err)
			}
		}
	}
	return nil
}

func validateRequest(req *models.PostmanRequest, maxHeaderCount int) error {
	if !allowedMethods[strings.ToUpper(req.Method)] {
		return fmt.Errorf("unsupported HTTP method: %s (allowed: GET, POST, PUT, PATCH, DELETE)", req.Method)
	}

	// Missing URLs are allowed, flows fall back to a placeholder endpoint.
	if urlStr := ExtractURL(req.URL); urlStr != "" {
		if err := validateURL(urlStr); err != nil {
			return err
		}
	}

	if len(req.Header) > maxHeaderCount {
		return fmt.Errorf("request has %d headers, exceeding limit of %d", len(req.Header), maxHeaderCount)
	}

	return nil
}

// ExtractURL returns the raw URL of a Postman request, which is either a
// string or an object with a "raw" field.
func ExtractURL(urlData interface{}) string {
	switch v := urlData.(type) {
	case string:
		return v
	case map[string]interface{}:
		if raw, ok := v["raw"].(string); ok {
			return raw
		}
	}
	return ""
}

func validateURL(urlStr string) error {
	// Template variables such as {{base_url}} are resolved at run time
	if strings.Contains(urlStr, "{{") && strings.Contains(urlStr, "}}") {
		return nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", parsed.Scheme)
	}

	return nil
}
