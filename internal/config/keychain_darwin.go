//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

// Secrets are generic passwords in the login keychain, labelled so they are
// recognisable in Keychain Access.
func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return out, nil
}

func keychainSet(service, account, value string) error {
	label := fmt.Sprintf("%s (%s)", service, account)
	cmd := exec.Command("security", "add-generic-password", "-U", "-l", label, "-s", service, "-a", account, "-w", value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain store %s/%s: %w: %s", service, account, err, out)
	}
	return nil
}
