// Package gcp holds helpers shared by the Google Cloud clients.
package gcp

import (
	"encoding/base64"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions turns a credentials setting into client options. The value may be raw
// service-account JSON, base64-encoded JSON or a file path; empty means application
// default credentials.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if raw, err := base64.StdEncoding.DecodeString(creds); err == nil && strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return []option.ClientOption{option.WithCredentialsJSON(raw)}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
