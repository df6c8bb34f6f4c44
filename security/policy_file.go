package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk form of a set of channel security rules:
//
//	channels:
//	  - pattern: "admin\\..*"
//	    send: [ROLE_ADMIN]
//	    receive: [ROLE_ADMIN, ROLE_AUDITOR]
type PolicyFile struct {
	Channels []ChannelPolicy `yaml:"channels"`
}

// ChannelPolicy secures the channels matching Pattern
type ChannelPolicy struct {
	Pattern string   `yaml:"pattern"`
	Send    []string `yaml:"send"`
	Receive []string `yaml:"receive"`
}

// LoadPolicyFile reads and validates a policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	// #nosec G304 -- policy path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates YAML policy data. Unknown keys are
// rejected so a misspelled setting cannot be silently ignored.
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var file PolicyFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("failed to parse policy: %v", err),
			Err:    err,
		}
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks that every pattern is present and compiles
func (f *PolicyFile) Validate() error {
	for i, c := range f.Channels {
		if c.Pattern == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("channels[%d]: pattern must not be empty", i)}
		}
		if _, err := CompilePattern(c.Pattern); err != nil {
			return &ConfigurationError{
				Name:   c.Pattern,
				Reason: fmt.Sprintf("channels[%d]: invalid pattern: %v", i, err),
				Err:    err,
			}
		}
	}
	return nil
}

// Rules converts the file into definition source rules
func (f *PolicyFile) Rules() []PolicyRule {
	rules := make([]PolicyRule, 0, len(f.Channels))
	for _, c := range f.Channels {
		rules = append(rules, PolicyRule{
			Pattern: c.Pattern,
			Policy:  AccessPolicy{Send: c.Send, Receive: c.Receive},
		})
	}
	return rules
}
