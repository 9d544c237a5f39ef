package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Session is the client-side authentication state: the credential issued by
// the server and the account it belongs to. It is loaded from a file on
// start, saved after login and cleared on logout.
type Session struct {
	path string

	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// NewSession returns an empty session persisted at path. An empty path keeps
// the session in memory only.
func NewSession(path string) *Session {
	return &Session{path: path}
}

// LoadSession reads the session persisted at path. A missing file yields an
// empty session.
func LoadSession(path string) (*Session, error) {
	session := NewSession(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return session, nil
	}
	if err != nil {
		return nil, fmt.Errorf("in pkg/client/session.go/LoadSession(): error while `os.ReadFile()` calling: %w", err)
	}

	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("in pkg/client/session.go/LoadSession(): error while `json.Unmarshal()` calling: %w", err)
	}

	return session, nil
}

// Authenticated reports whether the session holds a credential.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Save persists the session. The file is readable by its owner only.
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("in pkg/client/session.go/Save(): error while `os.MkdirAll()` calling: %w", err)
	}

	return os.WriteFile(s.path, data, 0o600)
}

// Clear forgets the credential and removes the persisted file.
func (s *Session) Clear() error {
	s.Token = ""
	s.User = nil

	if s.path == "" {
		return nil
	}

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("in pkg/client/session.go/Clear(): error while `os.Remove()` calling: %w", err)
	}

	return nil
}
