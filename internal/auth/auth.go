// Package auth is the identity collaborator consumed by the relay. The
// core never issues credentials; it only resolves a presented token to
// (user id, display name, role).
package auth

import "github.com/teleconsult/arcsignal/internal/domain"

type Identity struct {
	UserID      domain.UserID
	DisplayName string
	Role        domain.Role
}

// Provider resolves a connection's token to an identity.
type Provider interface {
	Authenticate(token string) (Identity, error)
}

// Can checks one capability for the identity's role.
func (id Identity) Can(cap domain.Capability) bool {
	return domain.CapabilitiesFor(id.Role).Has(cap)
}
