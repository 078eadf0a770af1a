// Package main generates a key for security.document_key, the AES-256 key that
// encrypts identity document references at rest. Store the output in a secret
// manager and expose it as GIG_SECURITY_DOCUMENT_KEY. Rotating the key makes
// previously sealed references unreadable, so re-encrypt before switching.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/gigmarket/marketplace/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	fmt.Println("==========================================================")
	fmt.Println("Document Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nGIG_SECURITY_DOCUMENT_KEY=%s\n\n", encoded)
}
