//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.folio.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "folio")
	}
	return "folio-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: " + keychainService + ", account: openrouter_api_key)"
}

// errNoDefault marks a key absent from the defaults domain. The defaults
// tool exits 1 for that case and for nothing else we care about.
var errNoDefault = errors.New("no such default")

// runDefaults invokes the macOS defaults tool.
var runDefaults = func(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", errNoDefault
	}
	if err != nil {
		return "", fmt.Errorf("defaults %s: %w: %s", args[0], err, s)
	}
	return s, nil
}

// userDefaultsBackend stores settings in the app's UserDefaults domain.
type userDefaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &userDefaultsBackend{domain: defaultsDomain}
}

func (b *userDefaultsBackend) GetString(key string) (string, bool, error) {
	s, err := runDefaults("read", b.domain, key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return s, true, nil
}

func (b *userDefaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *userDefaultsBackend) SetString(key, val string) error {
	_, err := runDefaults("write", b.domain, key, "-string", val)
	return err
}

func (b *userDefaultsBackend) SetInt(key string, val int) error {
	_, err := runDefaults("write", b.domain, key, "-int", strconv.Itoa(val))
	return err
}

func (b *userDefaultsBackend) Delete(key string) error {
	_, err := runDefaults("delete", b.domain, key)
	if errors.Is(err, errNoDefault) {
		return nil
	}
	return err
}
