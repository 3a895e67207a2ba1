// Package keyring stores the gateway's master credential-encryption key in
// the host OS keychain, falling back to an operator-supplied environment
// variable when no keychain is available (headless servers, containers).
package keyring

import (
	"encoding/hex"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const accountName = "master-encryption-key"

// Get retrieves the master encryption key from the OS keychain under service.
func Get(service string) ([]byte, error) {
	hexKey, err := zkr.Get(service, accountName)
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return hex.DecodeString(hexKey)
}

// Set stores the master encryption key in the OS keychain under service.
func Set(service string, key []byte) error {
	return zkr.Set(service, accountName, hex.EncodeToString(key))
}

// Delete removes the master encryption key from the OS keychain.
func Delete(service string) error {
	return zkr.Delete(service, accountName)
}

// Available reports whether the OS keychain is usable. Returns false if
// CHATGW_KEYRING_DISABLED=1 is set (opt-out for headless/CI/Docker runs),
// otherwise probes the keychain with a throwaway write/delete cycle.
func Available() bool {
	if os.Getenv("CHATGW_KEYRING_DISABLED") == "1" {
		return false
	}
	const probeService = "chatgw-keyring-probe"
	const probeAccount = "probe"
	if err := zkr.Set(probeService, probeAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(probeService, probeAccount)
	return true
}
