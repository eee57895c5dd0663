package contract

import (
	"encoding/json"
	"fmt"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var merchantLogger = flogging.MustGetLogger("commerceledger.merchantregistry")

// MerchantRegistry owns the Merchant entity set. Same shape as AdminRegistry
// with one mutable field (balance) and two operator settings: the payout
// destination used by settlement and the liquidity operator allowed to write
// balances.
type MerchantRegistry struct {
	Ctx contractapi.TransactionContextInterface
}

func NewMerchantRegistry(ctx contractapi.TransactionContextInterface) *MerchantRegistry {
	return &MerchantRegistry{Ctx: ctx}
}

func (r *MerchantRegistry) recordKey(addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(merchantObjectType, []string{addr})
}

func (r *MerchantRegistry) flagKey(addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(merchantFlagObjectType, []string{addr})
}

func (r *MerchantRegistry) adderKey(adder, addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(merchantAdderIndexType, []string{adder, addr})
}

// Add registers a new active merchant with a zero balance. Admin-gated.
func (r *MerchantRegistry) Add(target string) (*model.Merchant, error) {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return nil, fmt.Errorf("AddMerchant: %w", err)
	}
	if err := requireAddress(target, "merchant address"); err != nil {
		return nil, fmt.Errorf("AddMerchant: %w", err)
	}

	existing, err := r.activeProfile(target)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflict(existing, "address '%s' is already an active merchant", target)
	}

	now, err := getCurrentTxTimestamp(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: %w", err)
	}
	merchant := &model.Merchant{
		ObjectType: merchantObjectType,
		Address:    target,
		AddedBy:    actor.address,
		AddedAt:    now,
		Balance:    0,
	}

	recordBytes, err := json.Marshal(merchant)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to marshal merchant '%s': %w", target, err)
	}
	recordKey, err := r.recordKey(target)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to create merchant key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to save merchant '%s': %w", target, err)
	}
	flagKey, err := r.flagKey(target)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to create merchant flag key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().PutState(flagKey, []byte("true")); err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to set merchant flag for '%s': %w", target, err)
	}
	adderKey, err := r.adderKey(actor.address, target)
	if err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to create adder index key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().PutState(adderKey, []byte(target)); err != nil {
		return nil, fmt.Errorf("AddMerchant: failed to save adder index entry for '%s': %w", target, err)
	}

	emitNotification(r.Ctx, "MerchantAdded", "merchantregistry", map[string]interface{}{
		"address": target,
		"addedBy": actor.address,
	})
	merchantLogger.Infof("Merchant '%s' added by '%s'", target, actor.address)
	return merchant, nil
}

// Remove deactivates a merchant and clears its record, flag, and adder index
// entry. Admin-gated.
func (r *MerchantRegistry) Remove(target string) error {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return fmt.Errorf("RemoveMerchant: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return fmt.Errorf("RemoveMerchant: %w", err)
	}

	merchant, err := r.activeProfile(target)
	if err != nil {
		return fmt.Errorf("RemoveMerchant: %w", err)
	}
	if merchant == nil {
		return model.NewError(model.ReasonNotFound, "address '%s' is not an active merchant", target)
	}

	recordKey, err := r.recordKey(target)
	if err != nil {
		return fmt.Errorf("RemoveMerchant: failed to create merchant key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(recordKey); err != nil {
		return fmt.Errorf("RemoveMerchant: failed to delete merchant '%s': %w", target, err)
	}
	flagKey, err := r.flagKey(target)
	if err != nil {
		return fmt.Errorf("RemoveMerchant: failed to create merchant flag key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(flagKey); err != nil {
		return fmt.Errorf("RemoveMerchant: failed to clear merchant flag for '%s': %w", target, err)
	}
	adderKey, err := r.adderKey(merchant.AddedBy, target)
	if err != nil {
		return fmt.Errorf("RemoveMerchant: failed to create adder index key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(adderKey); err != nil {
		return fmt.Errorf("RemoveMerchant: failed to delete adder index entry for '%s': %w", target, err)
	}

	emitNotification(r.Ctx, "MerchantRemoved", "merchantregistry", map[string]interface{}{
		"address":   target,
		"removedBy": actor.address,
	})
	merchantLogger.Infof("Merchant '%s' removed by '%s'", target, actor.address)
	return nil
}

// UpdateBalance sets a merchant's balance. Callable by an active admin or by
// the configured liquidity operator.
//
// Deliberately no existence check is performed before writing: updating the
// balance of a never-added address creates a profile record with no active
// flag and no index entries. The phantom is invisible to every list view and
// to GetMerchantProfile, but occupies the profile key space. This mirrors the
// historical behavior of the balance-update path and is asserted by tests.
func (r *MerchantRegistry) UpdateBalance(target string, newBalance uint64) (*model.Merchant, error) {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: failed to get actor info: %w", err)
	}
	isAdmin, err := NewAccessGate(r.Ctx).IsAdmin(actor.address)
	if err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: failed to check admin status: %w", err)
	}
	if !isAdmin {
		operator, err := getConfigString(r.Ctx, cfgLiquidityOperator)
		if err != nil {
			return nil, fmt.Errorf("UpdateMerchantBalance: %w", err)
		}
		if operator == "" || operator != actor.address {
			return nil, model.NewError(model.ReasonAccessDenied,
				"caller '%s' is neither an admin nor the liquidity operator", actor.address)
		}
	}
	if err := requireAddress(target, "merchant address"); err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: %w", err)
	}

	recordKey, err := r.recordKey(target)
	if err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: failed to create merchant key for '%s': %w", target, err)
	}
	recordBytes, err := r.Ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: ledger error reading merchant '%s': %w", target, err)
	}
	merchant := &model.Merchant{ObjectType: merchantObjectType, Address: target}
	if recordBytes != nil {
		if err := json.Unmarshal(recordBytes, merchant); err != nil {
			return nil, fmt.Errorf("UpdateMerchantBalance: failed to unmarshal merchant '%s': %w", target, err)
		}
	} else {
		merchantLogger.Warningf("UpdateMerchantBalance: writing balance for unregistered address '%s'", target)
	}
	merchant.Balance = newBalance

	updatedBytes, err := json.Marshal(merchant)
	if err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: failed to marshal merchant '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().PutState(recordKey, updatedBytes); err != nil {
		return nil, fmt.Errorf("UpdateMerchantBalance: failed to save merchant '%s': %w", target, err)
	}

	emitNotification(r.Ctx, "MerchantBalanceUpdated", "merchantregistry", map[string]interface{}{
		"address":   target,
		"balance":   newBalance,
		"updatedBy": actor.address,
	})
	merchantLogger.Infof("Balance of '%s' set to %d by '%s'", target, newBalance, actor.address)
	return merchant, nil
}

// SetPayoutAddress stores the payout destination used by order settlement.
// Admin-gated.
func (r *MerchantRegistry) SetPayoutAddress(addr string) error {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return fmt.Errorf("SetMerchantPayoutAddress: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return fmt.Errorf("SetMerchantPayoutAddress: %w", err)
	}
	if err := requireAddress(addr, "payout address"); err != nil {
		return fmt.Errorf("SetMerchantPayoutAddress: %w", err)
	}
	if err := putConfigString(r.Ctx, cfgPayoutAddress, addr); err != nil {
		return fmt.Errorf("SetMerchantPayoutAddress: %w", err)
	}
	emitNotification(r.Ctx, "MerchantPayoutAddressSet", "merchantregistry", map[string]interface{}{
		"address":   addr,
		"updatedBy": actor.address,
	})
	merchantLogger.Infof("Merchant payout address set to '%s' by '%s'", addr, actor.address)
	return nil
}

// GetPayoutAddress returns the configured payout destination, or "" when unset.
func (r *MerchantRegistry) GetPayoutAddress() (string, error) {
	return getConfigString(r.Ctx, cfgPayoutAddress)
}

// SetLiquidityOperator stores the address allowed to write merchant balances
// alongside admins. Admin-gated.
func (r *MerchantRegistry) SetLiquidityOperator(addr string) error {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return fmt.Errorf("SetLiquidityOperator: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return fmt.Errorf("SetLiquidityOperator: %w", err)
	}
	if err := requireAddress(addr, "liquidity operator address"); err != nil {
		return fmt.Errorf("SetLiquidityOperator: %w", err)
	}
	if err := putConfigString(r.Ctx, cfgLiquidityOperator, addr); err != nil {
		return fmt.Errorf("SetLiquidityOperator: %w", err)
	}
	emitNotification(r.Ctx, "LiquidityOperatorSet", "merchantregistry", map[string]interface{}{
		"address":   addr,
		"updatedBy": actor.address,
	})
	merchantLogger.Infof("Liquidity operator set to '%s' by '%s'", addr, actor.address)
	return nil
}

// GetLiquidityOperator returns the configured liquidity operator, or "" when unset.
func (r *MerchantRegistry) GetLiquidityOperator() (string, error) {
	return getConfigString(r.Ctx, cfgLiquidityOperator)
}

// activeProfile returns the canonical record for an active merchant, or nil
// when the address is not active.
func (r *MerchantRegistry) activeProfile(addr string) (*model.Merchant, error) {
	flagKey, err := r.flagKey(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant flag key for '%s': %w", addr, err)
	}
	flagBytes, err := r.Ctx.GetStub().GetState(flagKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error checking merchant flag for '%s': %w", addr, err)
	}
	if flagBytes == nil || string(flagBytes) != "true" {
		return nil, nil
	}
	recordKey, err := r.recordKey(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant key for '%s': %w", addr, err)
	}
	recordBytes, err := r.Ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading merchant '%s': %w", addr, err)
	}
	if recordBytes == nil {
		return nil, nil
	}
	var merchant model.Merchant
	if err := json.Unmarshal(recordBytes, &merchant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal merchant '%s': %w", addr, err)
	}
	return &merchant, nil
}

// GetProfile returns the profile of an active merchant.
func (r *MerchantRegistry) GetProfile(addr string) (*model.Merchant, error) {
	merchant, err := r.activeProfile(addr)
	if err != nil {
		return nil, fmt.Errorf("GetMerchantProfile: %w", err)
	}
	if merchant == nil {
		return nil, model.NewError(model.ReasonNotFound, "address '%s' is not an active merchant", addr)
	}
	return merchant, nil
}

// GetAll returns every active merchant. Phantom balance records without an
// active flag are excluded.
func (r *MerchantRegistry) GetAll() ([]model.Merchant, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(merchantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetPlatformMerchants: failed to get merchants iterator: %w", err)
	}
	defer iterator.Close()

	merchants := []model.Merchant{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			merchantLogger.Warningf("GetPlatformMerchants: failed to get next merchant: %v. Skipping.", iterErr)
			continue
		}
		var merchant model.Merchant
		if err := json.Unmarshal(queryResponse.Value, &merchant); err != nil {
			merchantLogger.Warningf("GetPlatformMerchants: failed to unmarshal merchant at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		active, err := NewAccessGate(r.Ctx).hasFlag(merchantFlagObjectType, merchant.Address)
		if err != nil {
			return nil, fmt.Errorf("GetPlatformMerchants: %w", err)
		}
		if active {
			merchants = append(merchants, merchant)
		}
	}
	return merchants, nil
}

// GetRegistrations returns the active merchants registered by a given adder.
func (r *MerchantRegistry) GetRegistrations(adder string) ([]model.Merchant, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(merchantAdderIndexType, []string{adder})
	if err != nil {
		return nil, fmt.Errorf("GetMerchantRegistrations: failed to get index iterator for '%s': %w", adder, err)
	}
	defer iterator.Close()

	merchants := []model.Merchant{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			merchantLogger.Warningf("GetMerchantRegistrations: failed to get next index entry: %v. Skipping.", iterErr)
			continue
		}
		merchant, err := r.activeProfile(string(queryResponse.Value))
		if err != nil {
			return nil, fmt.Errorf("GetMerchantRegistrations: %w", err)
		}
		if merchant != nil {
			merchants = append(merchants, *merchant)
		}
	}
	return merchants, nil
}
