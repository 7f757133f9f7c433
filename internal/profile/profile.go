// Package profile implements the on-disk identity store: named profiles
// holding storage state, cookies, tier cache, fingerprint, and credentials,
// plus a global domain to tier cache shared across profiles.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// nameRe is the strict charset for profile names. Anything that could be a
// path component separator or traversal is rejected before resolution.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ErrExists is returned by Create when the profile already exists.
var ErrExists = errors.New("profile already exists")

// ErrNotFound is returned when a profile directory does not exist.
var ErrNotFound = errors.New("profile not found")

// Meta is the persisted profile descriptor.
type Meta struct {
	Name      string `json:"name"`
	Domain    string `json:"domain,omitempty"`
	Tier      int    `json:"tier"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Info is a loaded profile plus which optional state files exist.
type Info struct {
	Meta
	HasStorage     bool `json:"has_storage"`
	HasCookies     bool `json:"has_cookies"`
	HasFingerprint bool `json:"has_fingerprint"`
	HasCredentials bool `json:"has_credentials"`
}

// Store is the profile root directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve profile root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create profile root: %w", err)
	}
	return &Store{root: abs}, nil
}

// ValidateName enforces the profile naming contract: strict charset, no
// traversal, no separators, no absolute paths.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("profile name is empty")
	}
	if name == "." || strings.Contains(name, "..") {
		return fmt.Errorf("profile name %q contains traversal", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("profile name %q contains path separators", name)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("profile name %q has invalid characters (allowed: A-Z a-z 0-9 . _ -)", name)
	}
	return nil
}

// Path resolves a profile directory, verifying the result stays under the
// store root.
func (s *Store) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("profile %q escapes the profile root", name)
	}
	return p, nil
}

// Create makes a new profile directory with its meta record. Fails if the
// profile already exists.
func (s *Store) Create(name, domain string, tier int) (*Meta, error) {
	dir, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	meta := &Meta{
		Name:      name,
		Domain:    domain,
		Tier:      tier,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.writeJSON(name, "meta.json", meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Load returns the profile meta plus which state files are present.
func (s *Store) Load(name string) (*Info, error) {
	dir, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	info := &Info{Meta: Meta{Name: name}}
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &info.Meta)
	}
	info.HasStorage = fileExists(filepath.Join(dir, "storage.json"))
	info.HasCookies = fileExists(filepath.Join(dir, "cookies.json"))
	info.HasFingerprint = fileExists(filepath.Join(dir, "fingerprint.json"))
	info.HasCredentials = fileExists(filepath.Join(dir, "credentials.json"))
	return info, nil
}

// List returns info for every profile under the root.
func (s *Store) List() ([]*Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read profile root: %w", err)
	}
	var out []*Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Delete removes a profile directory recursively. Name validation runs
// before anything touches the filesystem.
func (s *Store) Delete(name string) error {
	dir, err := s.Path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return os.RemoveAll(dir)
}

// SaveStorageState writes the browser storage-state blob (cookies plus
// localStorage) for a profile.
func (s *Store) SaveStorageState(name string, data []byte) error {
	return s.writeRaw(name, "storage.json", data)
}

// LoadStorageState reads the storage-state blob, or nil when absent.
func (s *Store) LoadStorageState(name string) ([]byte, error) {
	return s.readRaw(name, "storage.json")
}

// SaveCookies writes the per-profile cookie file.
func (s *Store) SaveCookies(name string, data []byte) error {
	return s.writeRaw(name, "cookies.json", data)
}

// LoadCookies reads the per-profile cookie file, or nil when absent.
func (s *Store) LoadCookies(name string) ([]byte, error) {
	return s.readRaw(name, "cookies.json")
}

// SaveFingerprint writes the profile's fingerprint record.
func (s *Store) SaveFingerprint(name string, data []byte) error {
	return s.writeRaw(name, "fingerprint.json", data)
}

// LoadFingerprint reads the fingerprint record, or nil when absent.
func (s *Store) LoadFingerprint(name string) ([]byte, error) {
	return s.readRaw(name, "fingerprint.json")
}

// SaveTier caches the working tier for a profile.
func (s *Store) SaveTier(name string, tier int) error {
	return s.writeJSON(name, "tier.json", map[string]int{"tier": tier})
}

// LoadTier returns the cached tier, or 0 when none is cached.
func (s *Store) LoadTier(name string) (int, error) {
	data, err := s.readRaw(name, "tier.json")
	if err != nil || data == nil {
		return 0, err
	}
	var rec map[string]int
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("parse tier.json: %w", err)
	}
	return rec["tier"], nil
}

func (s *Store) writeJSON(name, file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", file, err)
	}
	return s.writeRaw(name, file, append(data, '\n'))
}

func (s *Store) writeRaw(name, file string, data []byte) error {
	dir, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

func (s *Store) readRaw(name, file string) ([]byte, error) {
	dir, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
