package profile

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// secretTagRe matches a tagged credential reference inside a value.
var secretTagRe = regexp.MustCompile(`<secret>([^<]+)</secret>`)

// SaveCredentials stores the symbolic-key to secret mapping for a profile.
func (s *Store) SaveCredentials(name string, creds map[string]string) error {
	return s.writeJSON(name, "credentials.json", creds)
}

// LoadCredentials returns the profile's credential map, or an empty map
// when none is stored.
func (s *Store) LoadCredentials(name string) (map[string]string, error) {
	data, err := s.readRaw(name, "credentials.json")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return map[string]string{}, nil
	}
	var creds map[string]string
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials.json: %w", err)
	}
	return creds, nil
}

// ResolveCredential substitutes stored secrets into an input value. Two
// modes: tagged (<secret>key</secret> substrings are replaced) and literal
// (a value that exactly equals a known key is replaced wholesale).
// Unknown tagged keys are left untouched.
func ResolveCredential(value string, creds map[string]string) string {
	if len(creds) == 0 {
		return value
	}
	if secret, ok := creds[value]; ok {
		return secret
	}
	return secretTagRe.ReplaceAllStringFunc(value, func(match string) string {
		key := secretTagRe.FindStringSubmatch(match)[1]
		if secret, ok := creds[key]; ok {
			return secret
		}
		return match
	})
}
