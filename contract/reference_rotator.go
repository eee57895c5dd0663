package contract

import (
	"encoding/json"
	"fmt"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var rotatorLogger = flogging.MustGetLogger("commerceledger.referencerotator")

// rotatablePointers is the set of collaborator pointers managed by the
// verify-before-commit protocol.
var rotatablePointers = map[string]bool{
	pointerAdminRegistry:    true,
	pointerMerchantRegistry: true,
	pointerToken:            true,
}

// ReferenceRotator repoints a stored collaborator address using the
// verify-before-commit protocol. The commit only happens after the proposed
// collaborator proves it is live, reports its own address correctly, and
// still recognizes the caller as admin — so a rotation can never lock the
// caller out of the module it protects.
type ReferenceRotator struct {
	Ctx contractapi.TransactionContextInterface
}

func NewReferenceRotator(ctx contractapi.TransactionContextInterface) *ReferenceRotator {
	return &ReferenceRotator{Ctx: ctx}
}

func pointerKey(ctx contractapi.TransactionContextInterface, name string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(pointerObjectType, []string{name})
}

// loadPointer returns the stored pointer record for a dependency, or nil when
// none has been set.
func loadPointer(ctx contractapi.TransactionContextInterface, name string) (*model.CollaboratorPointer, error) {
	key, err := pointerKey(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pointer key '%s': %w", name, err)
	}
	pointerBytes, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading pointer '%s': %w", name, err)
	}
	if pointerBytes == nil {
		return nil, nil
	}
	var pointer model.CollaboratorPointer
	if err := json.Unmarshal(pointerBytes, &pointer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pointer '%s': %w", name, err)
	}
	return &pointer, nil
}

func savePointer(ctx contractapi.TransactionContextInterface, pointer *model.CollaboratorPointer) error {
	key, err := pointerKey(ctx, pointer.Name)
	if err != nil {
		return fmt.Errorf("failed to create pointer key '%s': %w", pointer.Name, err)
	}
	pointerBytes, err := json.Marshal(pointer)
	if err != nil {
		return fmt.Errorf("failed to marshal pointer '%s': %w", pointer.Name, err)
	}
	if err := ctx.GetStub().PutState(key, pointerBytes); err != nil {
		return fmt.Errorf("failed to save pointer '%s': %w", pointer.Name, err)
	}
	return nil
}

// Rotate repoints the named dependency to newAddress. Protocol, in order:
//
//  1. the caller must pass the admin check against the CURRENT trust source;
//  2. newAddress must not be the zero address;
//  3. liveness probe: the proposed collaborator must self-report an address
//     equal to newAddress byte-for-byte;
//  4. the admin check is re-run against the NEW collaborator for the same
//     caller.
//
// Only then is the pointer committed. Steps 1-4 are side-effect free.
func (r *ReferenceRotator) Rotate(name, newAddress string) (*model.CollaboratorPointer, error) {
	if !rotatablePointers[name] {
		return nil, model.NewError(model.ReasonInvalidArgument, "unknown collaborator pointer '%s'", name)
	}
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("RotateCollaborator: failed to get actor info: %w", err)
	}
	if err := requireAdmin(r.Ctx, actor); err != nil {
		return nil, fmt.Errorf("RotateCollaborator: %w", err)
	}
	if isZeroAddress(newAddress) {
		return nil, model.NewError(model.ReasonInvalidArgument, "proposed collaborator address is the zero address")
	}

	probe := newChaincodeOracle(r.Ctx.GetStub(), newAddress)
	identity, err := probe.SelfIdentify()
	if err != nil {
		return nil, fmt.Errorf("RotateCollaborator: liveness probe of '%s' failed: %w", newAddress, err)
	}
	if identity.Address != newAddress {
		return nil, model.NewError(model.ReasonInvalidArgument,
			"collaborator at '%s' self-reports non-matching address '%s'", newAddress, identity.Address)
	}

	// The token pointer carries no authority, so only registry pointers need
	// the caller to retain admin standing on the new target.
	if name != pointerToken {
		recognized, err := probe.CheckIsAdmin(actor.address)
		if err != nil {
			return nil, fmt.Errorf("RotateCollaborator: admin re-check against '%s' failed: %w", newAddress, err)
		}
		if !recognized {
			return nil, model.NewError(model.ReasonAccessDenied,
				"caller '%s' would not be an admin on the proposed collaborator '%s'", actor.address, newAddress)
		}
	}

	now, err := getCurrentTxTimestamp(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("RotateCollaborator: %w", err)
	}
	pointer := &model.CollaboratorPointer{
		ObjectType: pointerObjectType,
		Name:       name,
		Address:    newAddress,
		UpdatedBy:  actor.address,
		UpdatedAt:  now,
	}
	if err := savePointer(r.Ctx, pointer); err != nil {
		return nil, fmt.Errorf("RotateCollaborator: %w", err)
	}

	emitNotification(r.Ctx, "CollaboratorRotated", "referencerotator", map[string]interface{}{
		"pointer":   name,
		"address":   newAddress,
		"rotatedBy": actor.address,
	})
	rotatorLogger.Infof("Pointer '%s' rotated to '%s' by '%s'", name, newAddress, actor.address)
	return pointer, nil
}

// Get returns the stored pointer record for a dependency.
func (r *ReferenceRotator) Get(name string) (*model.CollaboratorPointer, error) {
	if !rotatablePointers[name] {
		return nil, model.NewError(model.ReasonInvalidArgument, "unknown collaborator pointer '%s'", name)
	}
	pointer, err := loadPointer(r.Ctx, name)
	if err != nil {
		return nil, fmt.Errorf("GetCollaborator: %w", err)
	}
	if pointer == nil {
		return nil, model.NewError(model.ReasonNotFound, "pointer '%s' is not set", name)
	}
	return pointer, nil
}
