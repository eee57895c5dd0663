package contract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("commerceledger.contract")

// Object types for composite keys, also usable as 'docType' in CouchDB.
// Each registry owns one canonical record space ("arena"), one active-flag
// space, and the derived membership indexes listed alongside it.
const (
	adminObjectType     = "Admin"       // canonical Admin records. Attribute: address.
	adminFlagObjectType = "AdminActive" // active flag. Attribute: address.
	adminAdderIndexType = "AdminAdder"  // per-adder index. Attributes: adder, address.

	merchantObjectType     = "Merchant"       // canonical Merchant records. Attribute: address.
	merchantFlagObjectType = "MerchantActive" // active flag. Attribute: address.
	merchantAdderIndexType = "MerchantAdder"  // per-adder index. Attributes: adder, address.

	productObjectType        = "Product"         // canonical Product records. Attribute: id.
	productFlagObjectType    = "ProductActive"   // existence flag. Attribute: id.
	productAdderIndexType    = "ProductAdder"    // per-adder index. Attributes: adder, id.
	productMerchantIndexType = "ProductMerchant" // per-merchant index. Attributes: merchant, id.

	orderObjectType   = "Order"               // settlement records. Attribute: zero-padded orderId.
	pointerObjectType = "CollaboratorPointer" // rotated collaborator addresses. Attribute: name.
	configObjectType  = "Config"              // construction-time platform parameters. Attribute: name.
)

// Config entry names.
const (
	cfgOwner             = "owner"
	cfgSelfAddress       = "selfAddress"
	cfgCommissionRateBp  = "commissionRateBp"
	cfgPlatformWallet    = "platformWallet"
	cfgPayoutAddress     = "merchantPayoutAddress"
	cfgLiquidityOperator = "liquidityOperator"
	cfgOrderCounter      = "orderCounter"
)

// Collaborator pointer names managed by the rotation protocol.
const (
	pointerAdminRegistry    = "adminRegistry"
	pointerMerchantRegistry = "merchantRegistry"
	pointerToken            = "token"
)

// commissionRateDenominator is the basis-point scale of the commission rate.
const commissionRateDenominator = 10000

// addressAttribute is the X.509 certificate attribute carrying the caller's
// platform account address.
const addressAttribute = "commerce.address"

const serviceName = "commerceledger"

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var zeroAddress = "0x" + strings.Repeat("0", 40)

// isValidAddress reports whether addr is a well-formed, non-zero platform
// account address.
func isValidAddress(addr string) bool {
	return addressPattern.MatchString(addr) && !isZeroAddress(addr)
}

func isZeroAddress(addr string) bool {
	return addr == "" || strings.EqualFold(addr, zeroAddress)
}

// requireAddress validates a caller-supplied address argument.
func requireAddress(addr, field string) error {
	if isZeroAddress(addr) {
		return model.NewError(model.ReasonInvalidArgument, "%s is the zero address", field)
	}
	if !addressPattern.MatchString(addr) {
		return model.NewError(model.ReasonInvalidArgument, "%s '%s' is not a valid account address", field, addr)
	}
	return nil
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	address string
	fullID  string
	mspID   string
}

// getCurrentActorInfo resolves the invoker's platform account address from
// the commerce.address certificate attribute, plus the raw identity details.
func getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	clientIdentity := ctx.GetClientIdentity()
	if clientIdentity == nil {
		return nil, fmt.Errorf("client identity is nil from context")
	}
	fullID, err := clientIdentity.GetID()
	if err != nil {
		return nil, fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	addr, found, err := clientIdentity.GetAttributeValue(addressAttribute)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute '%s' for identity '%s': %w", addressAttribute, fullID, err)
	}
	if !found || strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("identity '%s' carries no '%s' attribute", fullID, addressAttribute)
	}
	if !isValidAddress(addr) {
		return nil, fmt.Errorf("identity '%s' carries a malformed account address '%s'", fullID, addr)
	}
	mspID, err := clientIdentity.GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get MSPID for identity '%s': %w", fullID, err)
	}
	return &actorInfo{address: addr, fullID: fullID, mspID: mspID}, nil
}

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// --- Config state helpers ---

func configKey(ctx contractapi.TransactionContextInterface, name string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(configObjectType, []string{name})
}

func getConfigString(ctx contractapi.TransactionContextInterface, name string) (string, error) {
	key, err := configKey(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create config key '%s': %w", name, err)
	}
	valueBytes, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", fmt.Errorf("ledger error reading config '%s': %w", name, err)
	}
	return string(valueBytes), nil
}

func putConfigString(ctx contractapi.TransactionContextInterface, name, value string) error {
	key, err := configKey(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create config key '%s': %w", name, err)
	}
	if err := ctx.GetStub().PutState(key, []byte(value)); err != nil {
		return fmt.Errorf("failed to save config '%s': %w", name, err)
	}
	return nil
}

func getConfigUint(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	value, err := getConfigString(ctx, name)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config '%s' holds a non-numeric value '%s': %w", name, value, err)
	}
	return parsed, nil
}

func putConfigUint(ctx contractapi.TransactionContextInterface, name string, value uint64) error {
	return putConfigString(ctx, name, strconv.FormatUint(value, 10))
}

// --- Notification collaborator ---

// emitNotification sends a chaincode event for a mutating operation. The
// notification collaborator is fire-and-forget: failures are logged, never
// surfaced to the caller.
func emitNotification(ctx contractapi.TransactionContextInterface, eventName, subsystem string, subjects map[string]interface{}) {
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		logger.Warningf("emitNotification: failed to get timestamp for event '%s': %v", eventName, err)
		now = time.Time{}
	}
	payload := map[string]interface{}{
		"subsystem": subsystem,
		"timestamp": now.Format(time.RFC3339),
	}
	for k, v := range subjects {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		} else {
			payload[k] = v
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitNotification: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if err := ctx.GetStub().SetEvent(eventName, eventBytes); err != nil {
		logger.Warningf("emitNotification: failed to set event '%s': %v", eventName, err)
	}
}

// --- Caller gates ---

// requireAdmin rejects the call unless the actor is an active admin
// (evaluated through the admin-registry pointer when one is rotated in).
func requireAdmin(ctx contractapi.TransactionContextInterface, actor *actorInfo) error {
	isAdmin, err := NewAccessGate(ctx).IsAdmin(actor.address)
	if err != nil {
		return fmt.Errorf("failed to check admin status for '%s': %w", actor.address, err)
	}
	if !isAdmin {
		return model.NewError(model.ReasonAccessDenied, "caller '%s' is not an active admin", actor.address)
	}
	return nil
}

// requireVerifiedManager rejects the call unless the actor is the owner, an
// active admin, or an active merchant.
func requireVerifiedManager(ctx contractapi.TransactionContextInterface, actor *actorInfo) error {
	ok, err := NewAccessGate(ctx).IsVerifiedManager(actor.address)
	if err != nil {
		return fmt.Errorf("failed to check manager status for '%s': %w", actor.address, err)
	}
	if !ok {
		return model.NewError(model.ReasonAccessDenied, "caller '%s' is not a verified manager", actor.address)
	}
	return nil
}
