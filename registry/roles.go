// Package registry tracks role membership for platform actors. It is the
// concrete authority checker behind the escrow ledger: the ledger only asks
// whether an address holds a role, never how the grant came to be.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Roles is a mutable role-membership set guarded by a read-write mutex. Role
// names are treated as opaque trimmed strings.
type Roles struct {
	mu     sync.RWMutex
	grants map[string]map[common.Address]struct{}
}

// NewRoles constructs an empty registry.
func NewRoles() *Roles {
	return &Roles{grants: make(map[string]map[common.Address]struct{})}
}

// Grant associates the address with the role. Granting an existing membership
// is a no-op.
func (r *Roles) Grant(addr common.Address, role string) {
	role = strings.TrimSpace(role)
	if role == "" || addr == (common.Address{}) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[role] == nil {
		r.grants[role] = make(map[common.Address]struct{})
	}
	r.grants[role][addr] = struct{}{}
}

// Revoke removes the address from the role, if present.
func (r *Roles) Revoke(addr common.Address, role string) {
	role = strings.TrimSpace(role)
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.grants[role]; ok {
		delete(members, addr)
		if len(members) == 0 {
			delete(r.grants, role)
		}
	}
}

// HasRole reports whether the provided address is associated with the
// specified role. Unknown roles and the zero address report false.
func (r *Roles) HasRole(addr common.Address, role string) bool {
	if addr == (common.Address{}) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.grants[strings.TrimSpace(role)]
	if !ok {
		return false
	}
	_, ok = members[addr]
	return ok
}

// Members returns the addresses holding the role in deterministic order.
func (r *Roles) Members(role string) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.grants[strings.TrimSpace(role)]
	out := make([]common.Address, 0, len(members))
	for addr := range members {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}
