package contract

import (
	"encoding/json"
	"fmt"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var adminLogger = flogging.MustGetLogger("commerceledger.adminregistry")

// AdminRegistry owns the Admin entity set: one canonical record per address
// plus the active flag and the per-adder membership index. Every view reads
// the canonical record, so the views cannot drift apart.
type AdminRegistry struct {
	Ctx contractapi.TransactionContextInterface
}

func NewAdminRegistry(ctx contractapi.TransactionContextInterface) *AdminRegistry {
	return &AdminRegistry{Ctx: ctx}
}

func (r *AdminRegistry) recordKey(addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(adminObjectType, []string{addr})
}

func (r *AdminRegistry) flagKey(addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(adminFlagObjectType, []string{addr})
}

func (r *AdminRegistry) adderKey(adder, addr string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(adminAdderIndexType, []string{adder, addr})
}

// Add registers a new active admin. Only an active admin may call this; the
// master admin is seeded at bootstrap without a prior admin.
func (r *AdminRegistry) Add(target string) (*model.Admin, error) {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddAdmin: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return nil, fmt.Errorf("AddAdmin: %w", err)
	}
	if err := requireAddress(target, "admin address"); err != nil {
		return nil, fmt.Errorf("AddAdmin: %w", err)
	}

	existing, err := r.activeProfile(target)
	if err != nil {
		return nil, fmt.Errorf("AddAdmin: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflict(existing, "address '%s' is already an active admin", target)
	}

	now, err := getCurrentTxTimestamp(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddAdmin: %w", err)
	}
	admin := &model.Admin{
		ObjectType: adminObjectType,
		Address:    target,
		AddedBy:    actor.address,
		AddedAt:    now,
	}
	if err := r.writeAdmin(admin); err != nil {
		return nil, fmt.Errorf("AddAdmin: %w", err)
	}

	emitNotification(r.Ctx, "AdminAdded", "adminregistry", map[string]interface{}{
		"address": target,
		"addedBy": actor.address,
	})
	adminLogger.Infof("Admin '%s' added by '%s'", target, actor.address)
	return admin, nil
}

// writeAdmin saves the canonical record, the active flag, and the adder index
// entry in one unit of work.
func (r *AdminRegistry) writeAdmin(admin *model.Admin) error {
	recordBytes, err := json.Marshal(admin)
	if err != nil {
		return fmt.Errorf("failed to marshal admin '%s': %w", admin.Address, err)
	}
	recordKey, err := r.recordKey(admin.Address)
	if err != nil {
		return fmt.Errorf("failed to create admin key for '%s': %w", admin.Address, err)
	}
	if err := r.Ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return fmt.Errorf("failed to save admin '%s': %w", admin.Address, err)
	}
	flagKey, err := r.flagKey(admin.Address)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for '%s': %w", admin.Address, err)
	}
	if err := r.Ctx.GetStub().PutState(flagKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to set admin flag for '%s': %w", admin.Address, err)
	}
	adderKey, err := r.adderKey(admin.AddedBy, admin.Address)
	if err != nil {
		return fmt.Errorf("failed to create adder index key for '%s': %w", admin.Address, err)
	}
	if err := r.Ctx.GetStub().PutState(adderKey, []byte(admin.Address)); err != nil {
		return fmt.Errorf("failed to save adder index entry for '%s': %w", admin.Address, err)
	}
	return nil
}

// Remove deactivates an admin, clearing the canonical record, the active
// flag, and the index entry under the original adder. Removal targets exactly
// the named address; other adders' registrations are untouched. The last
// active admin cannot be removed: without one, every admin-gated operation
// (including AddAdmin) becomes permanently unsatisfiable.
func (r *AdminRegistry) Remove(target string) error {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return fmt.Errorf("RemoveAdmin: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return fmt.Errorf("RemoveAdmin: %w", err)
	}

	admin, err := r.activeProfile(target)
	if err != nil {
		return fmt.Errorf("RemoveAdmin: %w", err)
	}
	if admin == nil {
		return model.NewError(model.ReasonNotFound, "address '%s' is not an active admin", target)
	}

	active, err := r.countActive()
	if err != nil {
		return fmt.Errorf("RemoveAdmin: %w", err)
	}
	if active <= 1 {
		return model.NewError(model.ReasonInvalidArgument, "cannot remove '%s': it is the last active admin", target)
	}

	recordKey, err := r.recordKey(target)
	if err != nil {
		return fmt.Errorf("RemoveAdmin: failed to create admin key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(recordKey); err != nil {
		return fmt.Errorf("RemoveAdmin: failed to delete admin '%s': %w", target, err)
	}
	flagKey, err := r.flagKey(target)
	if err != nil {
		return fmt.Errorf("RemoveAdmin: failed to create admin flag key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(flagKey); err != nil {
		return fmt.Errorf("RemoveAdmin: failed to clear admin flag for '%s': %w", target, err)
	}
	adderKey, err := r.adderKey(admin.AddedBy, target)
	if err != nil {
		return fmt.Errorf("RemoveAdmin: failed to create adder index key for '%s': %w", target, err)
	}
	if err := r.Ctx.GetStub().DelState(adderKey); err != nil {
		return fmt.Errorf("RemoveAdmin: failed to delete adder index entry for '%s': %w", target, err)
	}

	emitNotification(r.Ctx, "AdminRemoved", "adminregistry", map[string]interface{}{
		"address":   target,
		"removedBy": actor.address,
	})
	adminLogger.Infof("Admin '%s' removed by '%s'", target, actor.address)
	return nil
}

// countActive returns the number of active admins.
func (r *AdminRegistry) countActive() (int, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(adminFlagObjectType, []string{})
	if err != nil {
		return 0, fmt.Errorf("failed to get admin flags iterator: %w", err)
	}
	defer iterator.Close()

	active := 0
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			return 0, fmt.Errorf("failed to get next admin flag: %w", iterErr)
		}
		if string(queryResponse.Value) == "true" {
			active++
		}
	}
	return active, nil
}

// activeProfile returns the canonical record for an active admin, or nil when
// the address is not active.
func (r *AdminRegistry) activeProfile(addr string) (*model.Admin, error) {
	flagKey, err := r.flagKey(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin flag key for '%s': %w", addr, err)
	}
	flagBytes, err := r.Ctx.GetStub().GetState(flagKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error checking admin flag for '%s': %w", addr, err)
	}
	if flagBytes == nil || string(flagBytes) != "true" {
		return nil, nil
	}
	recordKey, err := r.recordKey(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin key for '%s': %w", addr, err)
	}
	recordBytes, err := r.Ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading admin '%s': %w", addr, err)
	}
	if recordBytes == nil {
		return nil, nil
	}
	var admin model.Admin
	if err := json.Unmarshal(recordBytes, &admin); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admin '%s': %w", addr, err)
	}
	return &admin, nil
}

// GetProfile returns the profile of an active admin.
func (r *AdminRegistry) GetProfile(addr string) (*model.Admin, error) {
	admin, err := r.activeProfile(addr)
	if err != nil {
		return nil, fmt.Errorf("GetAdminProfile: %w", err)
	}
	if admin == nil {
		return nil, model.NewError(model.ReasonNotFound, "address '%s' is not an active admin", addr)
	}
	return admin, nil
}

// GetAll returns every active admin. Ordering follows the state iterator and
// is not significant.
func (r *AdminRegistry) GetAll() ([]model.Admin, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(adminObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetPlatformAdmins: failed to get admins iterator: %w", err)
	}
	defer iterator.Close()

	admins := []model.Admin{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			adminLogger.Warningf("GetPlatformAdmins: failed to get next admin: %v. Skipping.", iterErr)
			continue
		}
		var admin model.Admin
		if err := json.Unmarshal(queryResponse.Value, &admin); err != nil {
			adminLogger.Warningf("GetPlatformAdmins: failed to unmarshal admin at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		active, err := NewAccessGate(r.Ctx).hasFlag(adminFlagObjectType, admin.Address)
		if err != nil {
			return nil, fmt.Errorf("GetPlatformAdmins: %w", err)
		}
		if active {
			admins = append(admins, admin)
		}
	}
	return admins, nil
}

// GetRegistrations returns the active admins registered by a given adder.
func (r *AdminRegistry) GetRegistrations(adder string) ([]model.Admin, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(adminAdderIndexType, []string{adder})
	if err != nil {
		return nil, fmt.Errorf("GetAdminRegistrations: failed to get index iterator for '%s': %w", adder, err)
	}
	defer iterator.Close()

	admins := []model.Admin{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			adminLogger.Warningf("GetAdminRegistrations: failed to get next index entry: %v. Skipping.", iterErr)
			continue
		}
		admin, err := r.activeProfile(string(queryResponse.Value))
		if err != nil {
			return nil, fmt.Errorf("GetAdminRegistrations: %w", err)
		}
		if admin != nil {
			admins = append(admins, *admin)
		}
	}
	return admins, nil
}
