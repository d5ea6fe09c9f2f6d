package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestFileTokenStore_SaveLoad(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(tokenPath)

	refreshed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	token := NewCookieToken("sessionid=abc; cadata=def", refreshed, 15*time.Minute)

	if err := store.SaveToken(token); err != nil {
		t.Fatalf("SaveToken() returned an error: %v", err)
	}

	loadedToken, err := store.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() returned an error: %v", err)
	}
	if loadedToken == nil {
		t.Fatal("LoadToken() returned nil token")
	}

	if loadedToken.AccessToken != token.AccessToken {
		t.Errorf("Expected AccessToken to be '%s', got '%s'", token.AccessToken, loadedToken.AccessToken)
	}
	if loadedToken.TokenType != TokenType {
		t.Errorf("Expected TokenType to be '%s', got '%s'", TokenType, loadedToken.TokenType)
	}
	if !loadedToken.Expiry.Equal(token.Expiry) {
		t.Errorf("Expected Expiry to be %v, got %v", token.Expiry, loadedToken.Expiry)
	}

	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatalf("Stat() returned an error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected token file mode 0600, got %o", perm)
	}
}

func TestFileTokenStore_LoadEmpty(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nonexistent.json"))

	token, err := store.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() should not return an error for non-existent file, got: %v", err)
	}
	if token != nil {
		t.Errorf("LoadToken() should return nil for non-existent file, got: %v", token)
	}
}

func TestFileTokenStore_LoadCorrupt(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(tokenPath, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() returned an error: %v", err)
	}

	if _, err := NewFileTokenStore(tokenPath).LoadToken(); err == nil {
		t.Error("LoadToken() should fail on a corrupt file")
	}
}

func TestCookieFromToken(t *testing.T) {
	refreshed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	lifetime := 15 * time.Minute

	cookie, gotRefreshed, ok := CookieFromToken(NewCookieToken("sessionid=abc", refreshed, lifetime), lifetime)
	if !ok {
		t.Fatal("CookieFromToken() rejected a cookie token")
	}
	if cookie != "sessionid=abc" {
		t.Errorf("Expected cookie to be 'sessionid=abc', got '%s'", cookie)
	}
	if !gotRefreshed.Equal(refreshed) {
		t.Errorf("Expected refresh time %v, got %v", refreshed, gotRefreshed)
	}

	bearer := &oauth2.Token{AccessToken: "x", TokenType: "Bearer", Expiry: refreshed}
	if _, _, ok := CookieFromToken(bearer, lifetime); ok {
		t.Error("CookieFromToken() accepted a bearer token")
	}
	if _, _, ok := CookieFromToken(nil, lifetime); ok {
		t.Error("CookieFromToken() accepted a nil token")
	}
}
