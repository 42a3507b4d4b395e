package utils

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// NewTokenSource returns a reusable static token source for the X-Auth-Token
// header. An explicit token wins over the token file. No token yields nil.
func NewTokenSource(token, tokenFile string) (oauth2.TokenSource, error) {
	if token == "" && tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("error reading token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
		if token == "" {
			return nil, fmt.Errorf("token file %s is empty", tokenFile)
		}
	}
	if token == "" {
		return nil, nil
	}
	return oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})), nil
}
