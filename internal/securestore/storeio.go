package securestore

import (
	"os"
)

// ReadDecryptedFile reads a sealed file and opens it with the secret.
func ReadDecryptedFile(path, secret string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, raw)
}
