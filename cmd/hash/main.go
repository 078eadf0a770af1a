// Package main prints a bcrypt hash for a password read from the first argument or
// stdin. The marketplace stores only password hashes, so this is how the first admin
// account is seeded:
//
//	INSERT INTO users (email, name, password_hash, role) VALUES ('ops@example.com', 'Ops', '<hash>', 'admin');
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gigmarket/marketplace/internal/auth"
)

func main() {
	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "usage: hash <password>  (or pipe the password on stdin)")
			os.Exit(2)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
