package contract

import (
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// AccessGate evaluates role predicates against registry state. All methods
// are pure reads; when a registry pointer has been rotated to an external
// collaborator the corresponding check is delegated through it.
type AccessGate struct {
	Ctx contractapi.TransactionContextInterface
}

func NewAccessGate(ctx contractapi.TransactionContextInterface) *AccessGate {
	return &AccessGate{Ctx: ctx}
}

// IsOwner reports whether addr is the platform owner seeded at bootstrap.
func (g *AccessGate) IsOwner(addr string) (bool, error) {
	owner, err := getConfigString(g.Ctx, cfgOwner)
	if err != nil {
		return false, err
	}
	return owner != "" && owner == addr, nil
}

// IsAdmin reports whether addr is an active admin, consulting the external
// admin registry when the adminRegistry pointer has been rotated away.
func (g *AccessGate) IsAdmin(addr string) (bool, error) {
	delegate, err := g.delegateFor(pointerAdminRegistry)
	if err != nil {
		return false, err
	}
	if delegate != nil {
		return delegate.CheckIsAdmin(addr)
	}
	return g.hasFlag(adminFlagObjectType, addr)
}

// IsMerchant reports whether addr is an active merchant, consulting the
// external merchant registry when the merchantRegistry pointer has been
// rotated away.
func (g *AccessGate) IsMerchant(addr string) (bool, error) {
	delegate, err := g.delegateFor(pointerMerchantRegistry)
	if err != nil {
		return false, err
	}
	if delegate != nil {
		return delegate.CheckIsMerchant(addr)
	}
	return g.hasFlag(merchantFlagObjectType, addr)
}

// IsVerifiedManager reports whether addr is the owner, an active admin, or an
// active merchant. This is the gate for product mutations.
func (g *AccessGate) IsVerifiedManager(addr string) (bool, error) {
	isOwner, err := g.IsOwner(addr)
	if err != nil {
		return false, err
	}
	if isOwner {
		return true, nil
	}
	isAdmin, err := g.IsAdmin(addr)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}
	return g.IsMerchant(addr)
}

// delegateFor returns an oracle over the named pointer's collaborator, or nil
// when the pointer is unset or still points at this contract.
func (g *AccessGate) delegateFor(name string) (AdminOracle, error) {
	pointer, err := loadPointer(g.Ctx, name)
	if err != nil {
		return nil, err
	}
	if pointer == nil || pointer.Address == "" {
		return nil, nil
	}
	self, err := getConfigString(g.Ctx, cfgSelfAddress)
	if err != nil {
		return nil, err
	}
	if pointer.Address == self {
		return nil, nil
	}
	return newChaincodeOracle(g.Ctx.GetStub(), pointer.Address), nil
}

func (g *AccessGate) hasFlag(objectType, addr string) (bool, error) {
	key, err := g.Ctx.GetStub().CreateCompositeKey(objectType, []string{addr})
	if err != nil {
		return false, fmt.Errorf("failed to create %s key for '%s': %w", objectType, addr, err)
	}
	flagBytes, err := g.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("ledger error checking %s for '%s': %w", objectType, addr, err)
	}
	return flagBytes != nil && string(flagBytes) == "true", nil
}
