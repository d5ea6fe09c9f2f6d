package auth

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// FileTokenStore keeps the Exchange session cookie in a JSON file so a
// restarted proxy can reuse a cookie that has not yet expired.
type FileTokenStore struct {
	Path string
}

// NewFileTokenStore stores the cookie at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

// SaveToken writes the cookie token to store.Path, readable only by the
// owner since the cookie grants mailbox access.
func (store *FileTokenStore) SaveToken(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal session cookie: %w", err)
	}

	// Write then rename so a concurrent reader never sees a partial file.
	tmp := store.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := os.Rename(tmp, store.Path); err != nil {
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}

	return nil
}

// LoadToken returns the stored cookie token, or nil, nil before the first
// login has been saved.
func (store *FileTokenStore) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(store.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode cookie file: %w", err)
	}

	return &token, nil
}
