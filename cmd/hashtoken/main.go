// Command hashtoken prints the bcrypt hash of an operator token for
// the OPERATOR_TOKEN_HASH environment variable.
//
// Usage: hashtoken <token>
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/appforge/backend/pkg/auth"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <token>", os.Args[0])
	}
	hash, err := auth.HashOperatorToken(os.Args[1])
	if err != nil {
		log.Fatalf("failed to hash token: %v", err)
	}
	fmt.Println(hash)
}
