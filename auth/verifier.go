package auth

import "github.com/petabi/deview/store"

// Verifier decides whether password matches the account's credential.
type Verifier interface {
	Verify(account *store.Account, password string) bool
}

// CredentialVerifier checks passwords with the account's own hash routine,
// which compares in constant time.
type CredentialVerifier struct{}

func (CredentialVerifier) Verify(account *store.Account, password string) bool {
	return account.VerifyPassword(password)
}
