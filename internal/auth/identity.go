package auth

import (
	"fmt"
	"strings"
)

// Identity represents a normalized external authentication identity
// returned by an identity provider. It contains facts only, no decisions.
type Identity struct {
	Provider       string // e.g. "google", "github"
	ProviderUserID string // provider-scoped stable identifier (sub)
	ProviderLogin  string // provider-scoped login, may change over time
	Name           string // display name
	Email          string // optional
	EmailVerified  bool   // whether provider asserts email ownership
}

// NormalizedEmail returns the email in the form it is stored and compared.
func (i Identity) NormalizedEmail() string {
	return NormalizeEmail(i.Email)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Source identifies how an authentication happened. It is recorded with
// security events such as an email shift.
type Source struct {
	Method   string
	Provider string
}

const MethodExternal = "external"

// External is the source for an identity asserted by an external provider.
func External(provider string) Source {
	return Source{Method: MethodExternal, Provider: provider}
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Method, s.Provider)
}

// ConflictPolicy decides what happens when an asserted email already belongs
// to another local user.
type ConflictPolicy int

const (
	// PolicyWarn rejects the authentication and leaves every record untouched.
	PolicyWarn ConflictPolicy = iota
	// PolicyAllow moves the email to the user being authenticated.
	PolicyAllow
)

// PolicyFor maps the caller's allowEmailShift choice to a policy.
func PolicyFor(allowEmailShift bool) ConflictPolicy {
	if allowEmailShift {
		return PolicyAllow
	}
	return PolicyWarn
}

func (p ConflictPolicy) String() string {
	switch p {
	case PolicyAllow:
		return "allow"
	case PolicyWarn:
		return "warn"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}
