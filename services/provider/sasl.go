package provider

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Outlook IMAP endpoints.
type xoauth2Client struct {
	username    string
	accessToken string
}

// NewXOAuth2Client builds a SASL client authenticating with a bearer token.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{
		username:    username,
		accessToken: accessToken,
	}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	mech = "XOAUTH2"
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken))
	return
}

func (c *xoauth2Client) Next(challenge []byte) (response []byte, err error) {
	// The server sends a base64 encoded error as a challenge when the token
	// is rejected. Responding with an empty line makes it return the final
	// NO so the failure surfaces as a normal authentication error.
	return []byte(""), nil
}
