package contract

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var settlementLogger = flogging.MustGetLogger("commerceledger.ordersettlement")

// orderKeyWidth zero-pads order ids so composite keys sort numerically.
const orderKeyWidth = 20

// OrderSettlement owns the order ledger and its id counter. Each order passes
// through exactly two states: non-existent, then settled; settled is terminal.
type OrderSettlement struct {
	Ctx contractapi.TransactionContextInterface
}

func NewOrderSettlement(ctx contractapi.TransactionContextInterface) *OrderSettlement {
	return &OrderSettlement{Ctx: ctx}
}

func (s *OrderSettlement) orderKey(orderID uint64) (string, error) {
	return s.Ctx.GetStub().CreateCompositeKey(orderObjectType, []string{fmt.Sprintf("%0*d", orderKeyWidth, orderID)})
}

// token resolves the fungible-token collaborator through its pointer.
func (s *OrderSettlement) token() (IdentityToken, error) {
	pointer, err := loadPointer(s.Ctx, pointerToken)
	if err != nil {
		return nil, err
	}
	if pointer == nil || pointer.Address == "" {
		return nil, model.NewError(model.ReasonExternalCallFailed, "token collaborator is not configured")
	}
	return newChaincodeToken(s.Ctx.GetStub(), pointer.Address), nil
}

// ApprovePayment delegates an allowance grant to the token collaborator. Pure
// pass-through; the business rules live in the token contract.
func (s *OrderSettlement) ApprovePayment(amount uint64, settlementContract string) error {
	if err := requireAddress(settlementContract, "settlement contract address"); err != nil {
		return fmt.Errorf("ApprovePayment: %w", err)
	}
	token, err := s.token()
	if err != nil {
		return fmt.Errorf("ApprovePayment: %w", err)
	}
	if err := token.Approve(settlementContract, amount); err != nil {
		return fmt.Errorf("ApprovePayment: %w", err)
	}
	return nil
}

// ProcessOrder settles a new order: allocates the next ledger id, splits the
// total into commission and merchant payout, records the order, then executes
// the two transfers. The order record is written BEFORE any external call so
// a reentrant observer sees consistent, settled state; a transfer failure
// aborts the whole transaction and the platform discards every write.
func (s *OrderSettlement) ProcessOrder(createdBy, orderReference string, totalAmount uint64) (*model.Order, error) {
	if err := requireAddress(createdBy, "createdBy address"); err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	if strings.TrimSpace(orderReference) == "" {
		return nil, model.NewError(model.ReasonInvalidArgument, "orderReference cannot be empty")
	}
	if totalAmount == 0 {
		return nil, model.NewError(model.ReasonInvalidArgument, "totalAmount must be positive")
	}

	platformWallet, err := getConfigString(s.Ctx, cfgPlatformWallet)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	if platformWallet == "" {
		return nil, model.NewError(model.ReasonInvalidArgument, "platform wallet is not configured")
	}
	payoutAddress, err := getConfigString(s.Ctx, cfgPayoutAddress)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	if payoutAddress == "" {
		return nil, model.NewError(model.ReasonInvalidArgument, "merchant payout address is not configured")
	}
	rateBp, err := getConfigUint(s.Ctx, cfgCommissionRateBp)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	token, err := s.token()
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}

	// Counter is strictly increasing and never reused, even across failed
	// settlements: a failure discards the increment with the rest of the
	// transaction, so committed ids stay gapless and monotonic.
	counter, err := getConfigUint(s.Ctx, cfgOrderCounter)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	orderID := counter + 1
	if err := putConfigUint(s.Ctx, cfgOrderCounter, orderID); err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}

	// Commission rounds down; the merchant absorbs the remainder so the two
	// legs always sum to the total. The product is taken in 128 bits so a
	// large total cannot overflow the split. The quotient always fits: the
	// rate never exceeds the denominator, so commission <= totalAmount.
	productHi, productLo := bits.Mul64(totalAmount, rateBp)
	commission, _ := bits.Div64(productHi, productLo, commissionRateDenominator)
	merchantPayout := totalAmount - commission

	now, err := getCurrentTxTimestamp(s.Ctx)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: %w", err)
	}
	order := &model.Order{
		ObjectType:     orderObjectType,
		OrderID:        orderID,
		CreatedBy:      createdBy,
		OrderReference: orderReference,
		TotalAmount:    totalAmount,
		Commission:     commission,
		MerchantPayout: merchantPayout,
		CreatedAt:      now,
	}
	orderBytes, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: failed to marshal order %d: %w", orderID, err)
	}
	orderKey, err := s.orderKey(orderID)
	if err != nil {
		return nil, fmt.Errorf("ProcessOrder: failed to create order key for %d: %w", orderID, err)
	}
	if err := s.Ctx.GetStub().PutState(orderKey, orderBytes); err != nil {
		return nil, fmt.Errorf("ProcessOrder: failed to save order %d: %w", orderID, err)
	}

	if err := token.TransferFrom(createdBy, platformWallet, commission); err != nil {
		return nil, fmt.Errorf("ProcessOrder: commission transfer for order %d failed: %w", orderID, err)
	}
	if err := token.TransferFrom(createdBy, payoutAddress, merchantPayout); err != nil {
		return nil, fmt.Errorf("ProcessOrder: payout transfer for order %d failed: %w", orderID, err)
	}

	emitNotification(s.Ctx, "OrderProcessed", "ordersettlement", map[string]interface{}{
		"orderId":        orderID,
		"orderReference": orderReference,
		"createdBy":      createdBy,
		"totalAmount":    totalAmount,
		"commission":     commission,
		"merchantPayout": merchantPayout,
	})
	settlementLogger.Infof("Order %d settled: total %d, commission %d, payout %d", orderID, totalAmount, commission, merchantPayout)
	return order, nil
}

// ResetOrderCounter zeroes the ledger-id counter. Admin-only escape hatch for
// re-initializing a cleared deployment; ids allocated afterwards restart at 1.
// Refused while any settled order exists: re-allocating an id would overwrite
// its immutable record.
func (s *OrderSettlement) ResetOrderCounter() error {
	actor, err := getCurrentActorInfo(s.Ctx)
	if err != nil {
		return fmt.Errorf("ResetOrderCounter: failed to get actor info: %w", err)
	}
	if err := requireAdmin(s.Ctx, actor); err != nil {
		return fmt.Errorf("ResetOrderCounter: %w", err)
	}
	iterator, err := s.Ctx.GetStub().GetStateByPartialCompositeKey(orderObjectType, []string{})
	if err != nil {
		return fmt.Errorf("ResetOrderCounter: failed to get orders iterator: %w", err)
	}
	hasOrders := iterator.HasNext()
	iterator.Close()
	if hasOrders {
		return model.NewError(model.ReasonInvalidArgument, "cannot reset the order counter while settled orders exist")
	}
	if err := putConfigUint(s.Ctx, cfgOrderCounter, 0); err != nil {
		return fmt.Errorf("ResetOrderCounter: %w", err)
	}
	emitNotification(s.Ctx, "OrderCounterReset", "ordersettlement", map[string]interface{}{
		"resetBy": actor.address,
	})
	settlementLogger.Infof("Order counter reset by '%s'", actor.address)
	return nil
}

// SetCommissionRate adjusts the commission rate in basis points. Admin-gated.
func (s *OrderSettlement) SetCommissionRate(rateBp uint64) error {
	actor, err := getCurrentActorInfo(s.Ctx)
	if err != nil {
		return fmt.Errorf("SetCommissionRate: failed to get actor info: %w", err)
	}
	if err := requireAdmin(s.Ctx, actor); err != nil {
		return fmt.Errorf("SetCommissionRate: %w", err)
	}
	if rateBp > commissionRateDenominator {
		return model.NewError(model.ReasonInvalidArgument, "commission rate %d exceeds %d basis points", rateBp, commissionRateDenominator)
	}
	if err := putConfigUint(s.Ctx, cfgCommissionRateBp, rateBp); err != nil {
		return fmt.Errorf("SetCommissionRate: %w", err)
	}
	emitNotification(s.Ctx, "CommissionRateSet", "ordersettlement", map[string]interface{}{
		"rateBp":    rateBp,
		"updatedBy": actor.address,
	})
	settlementLogger.Infof("Commission rate set to %d bp by '%s'", rateBp, actor.address)
	return nil
}

// GetCommissionRate returns the commission rate in basis points.
func (s *OrderSettlement) GetCommissionRate() (uint64, error) {
	return getConfigUint(s.Ctx, cfgCommissionRateBp)
}

// GetOrder returns a settled order by ledger id.
func (s *OrderSettlement) GetOrder(orderID uint64) (*model.Order, error) {
	orderKey, err := s.orderKey(orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: failed to create order key for %d: %w", orderID, err)
	}
	orderBytes, err := s.Ctx.GetStub().GetState(orderKey)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: ledger error reading order %d: %w", orderID, err)
	}
	if orderBytes == nil {
		return nil, model.NewError(model.ReasonNotFound, "order %d not found", orderID)
	}
	var order model.Order
	if err := json.Unmarshal(orderBytes, &order); err != nil {
		return nil, fmt.Errorf("GetOrder: failed to unmarshal order %d: %w", orderID, err)
	}
	return &order, nil
}

// GetAllOrders returns every settled order in ledger-id order.
func (s *OrderSettlement) GetAllOrders() ([]model.Order, error) {
	iterator, err := s.Ctx.GetStub().GetStateByPartialCompositeKey(orderObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllOrders: failed to get orders iterator: %w", err)
	}
	defer iterator.Close()

	orders := []model.Order{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			settlementLogger.Warningf("GetAllOrders: failed to get next order: %v. Skipping.", iterErr)
			continue
		}
		var order model.Order
		if err := json.Unmarshal(queryResponse.Value, &order); err != nil {
			settlementLogger.Warningf("GetAllOrders: failed to unmarshal order at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}
