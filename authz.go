package authgate

// Capability names one permitted operation. Roles map to capability sets
// registered on the Builder; the single Authorize check replaces scattered
// per-endpoint role branching.
type Capability string

// Capabilities consumed by the built-in HTTP surface. Services embedding
// the engine register their own alongside these.
const (
	CapSelfRead       Capability = "self:read"
	CapSelfManageMFA  Capability = "self:manage_mfa"
	CapSelfChangePass Capability = "self:change_password"
	CapAdminSessions  Capability = "admin:sessions"
	CapAdminAccounts  Capability = "admin:accounts"
)

type capabilitySet map[Capability]struct{}

// grantTable is built once by the Builder and read-only afterwards, so
// Authorize needs no locking.
type grantTable map[string]capabilitySet

func (t grantTable) allows(role string, capability Capability) bool {
	set, ok := t[role]
	if !ok {
		return false
	}
	_, ok = set[capability]
	return ok
}

// Authorize checks that the identity's role grants the capability.
func (e *Engine) Authorize(id Identity, capability Capability) error {
	if !e.grants.allows(id.Role, capability) {
		return ErrUnauthorized
	}
	return nil
}
