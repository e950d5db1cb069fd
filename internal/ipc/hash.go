package ipc

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var identityFold = cases.Lower(language.Und)

// NormalizeIdentity folds a user name or email address the way projects
// store it.
func NormalizeIdentity(identity string) string {
	return identityFold.String(strings.TrimSpace(identity))
}

// HashPassword returns the credential hash projects expect for account
// lookup: hex md5 of the password followed by the normalized identity.
func HashPassword(password, identity string) string {
	sum := md5.Sum([]byte(password + NormalizeIdentity(identity)))
	return hex.EncodeToString(sum[:])
}

// Identity returns the user name when the project keys accounts by name and
// the email address otherwise.
func (in AccountIn) Identity() string {
	if in.UsesUsername {
		return in.UserName
	}
	return in.EmailAddr
}
