// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package admin

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/morphaNFT/marker-maker/dex/encode"
	"golang.org/x/term"
)

// PasswordPrompt prompts the user to enter a password without echo. Password
// must not be an empty string.
func PasswordPrompt(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, errors.New("password must not be empty")
	}
	return password, nil
}

// PasswordHashPrompt prompts the user to enter a password and returns its
// SHA256 hash. The password bytes are zeroed.
func PasswordHashPrompt(prompt string) ([32]byte, error) {
	var authSHA [32]byte
	password, err := PasswordPrompt(prompt)
	if err != nil {
		return authSHA, err
	}
	authSHA = sha256.Sum256(password)
	encode.ClearBytes(password)
	return authSHA, nil
}
