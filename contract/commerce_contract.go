package contract

import (
	"errors"
	"fmt"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// CommerceSmartContract is the chaincode surface of the platform registry and
// settlement layer. Methods are thin wrappers delegating to the registry
// managers; authorization lives inside each manager operation.
type CommerceSmartContract struct {
	contractapi.Contract
}

// Instantiate is called during chaincode instantiation.
func (c *CommerceSmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("CommerceSmartContract Instantiated/Upgraded")
}

// BootstrapLedger is the one-shot construction step: it seeds the platform
// owner (who doubles as the master admin), the commission rate, the platform
// wallet, the token pointer, and this contract's own registered address used
// by the SelfIdentify probe. Re-running after bootstrap is rejected.
func (c *CommerceSmartContract) BootstrapLedger(ctx contractapi.TransactionContextInterface,
	ownerAddr string, commissionRateBp uint64, platformWallet, tokenAddress, selfAddress string) error {

	existingOwner, err := getConfigString(ctx, cfgOwner)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if existingOwner != "" {
		return errors.New("ledger is already bootstrapped. BootstrapLedger should not be re-run")
	}

	if err := requireAddress(ownerAddr, "owner address"); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := requireAddress(platformWallet, "platform wallet address"); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if tokenAddress == "" {
		return model.NewError(model.ReasonInvalidArgument, "token address cannot be empty")
	}
	if selfAddress == "" {
		return model.NewError(model.ReasonInvalidArgument, "self address cannot be empty")
	}
	if commissionRateBp > commissionRateDenominator {
		return model.NewError(model.ReasonInvalidArgument, "commission rate %d exceeds %d basis points", commissionRateBp, commissionRateDenominator)
	}

	if err := putConfigString(ctx, cfgOwner, ownerAddr); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := putConfigString(ctx, cfgSelfAddress, selfAddress); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := putConfigString(ctx, cfgPlatformWallet, platformWallet); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := putConfigUint(ctx, cfgCommissionRateBp, commissionRateBp); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := putConfigUint(ctx, cfgOrderCounter, 0); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}

	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	if err := savePointer(ctx, &model.CollaboratorPointer{
		ObjectType: pointerObjectType,
		Name:       pointerToken,
		Address:    tokenAddress,
		UpdatedBy:  ownerAddr,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}

	// Seed the master admin with direct writes: no prior admin exists to
	// satisfy the usual gate.
	masterAdmin := &model.Admin{
		ObjectType: adminObjectType,
		Address:    ownerAddr,
		AddedBy:    ownerAddr,
		AddedAt:    now,
	}
	if err := NewAdminRegistry(ctx).writeAdmin(masterAdmin); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to seed master admin: %w", err)
	}

	emitNotification(ctx, "LedgerBootstrapped", "commerce", map[string]interface{}{
		"owner":            ownerAddr,
		"commissionRateBp": commissionRateBp,
		"platformWallet":   platformWallet,
		"token":            tokenAddress,
	})
	logger.Infof("Ledger bootstrapped: owner '%s' seeded as master admin, commission %d bp", ownerAddr, commissionRateBp)
	return nil
}

// --- AccessGate (also the oracle surface consumed by peer contracts) ---

func (c *CommerceSmartContract) CheckIsOwner(ctx contractapi.TransactionContextInterface, addr string) (bool, error) {
	return NewAccessGate(ctx).IsOwner(addr)
}

func (c *CommerceSmartContract) CheckIsAdmin(ctx contractapi.TransactionContextInterface, addr string) (bool, error) {
	return NewAccessGate(ctx).IsAdmin(addr)
}

func (c *CommerceSmartContract) CheckIsMerchant(ctx contractapi.TransactionContextInterface, addr string) (bool, error) {
	return NewAccessGate(ctx).IsMerchant(addr)
}

func (c *CommerceSmartContract) CheckIsVerifiedManager(ctx contractapi.TransactionContextInterface, addr string) (bool, error) {
	return NewAccessGate(ctx).IsVerifiedManager(addr)
}

// SelfIdentify answers the rotation liveness probe of peer contracts with
// this contract's name and registered address.
func (c *CommerceSmartContract) SelfIdentify(ctx contractapi.TransactionContextInterface) (*model.SelfIdentity, error) {
	self, err := getConfigString(ctx, cfgSelfAddress)
	if err != nil {
		return nil, fmt.Errorf("SelfIdentify: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("SelfIdentify: %w", err)
	}
	return &model.SelfIdentity{Name: serviceName, Address: self, Timestamp: now}, nil
}

// --- AdminRegistry ---

func (c *CommerceSmartContract) AddAdmin(ctx contractapi.TransactionContextInterface, addr string) (*model.Admin, error) {
	logger.Infof("Chaincode Call: AddAdmin '%s'", addr)
	return NewAdminRegistry(ctx).Add(addr)
}

func (c *CommerceSmartContract) RemoveAdmin(ctx contractapi.TransactionContextInterface, addr string) error {
	logger.Infof("Chaincode Call: RemoveAdmin '%s'", addr)
	return NewAdminRegistry(ctx).Remove(addr)
}

func (c *CommerceSmartContract) GetPlatformAdmins(ctx contractapi.TransactionContextInterface) ([]model.Admin, error) {
	logger.Debug("Chaincode Call: GetPlatformAdmins")
	return NewAdminRegistry(ctx).GetAll()
}

func (c *CommerceSmartContract) GetAdminRegistrations(ctx contractapi.TransactionContextInterface, adderAddr string) ([]model.Admin, error) {
	logger.Debugf("Chaincode Call: GetAdminRegistrations for '%s'", adderAddr)
	return NewAdminRegistry(ctx).GetRegistrations(adderAddr)
}

func (c *CommerceSmartContract) GetAdminProfile(ctx contractapi.TransactionContextInterface, addr string) (*model.Admin, error) {
	logger.Debugf("Chaincode Call: GetAdminProfile for '%s'", addr)
	return NewAdminRegistry(ctx).GetProfile(addr)
}

// --- MerchantRegistry ---

func (c *CommerceSmartContract) AddMerchant(ctx contractapi.TransactionContextInterface, addr string) (*model.Merchant, error) {
	logger.Infof("Chaincode Call: AddMerchant '%s'", addr)
	return NewMerchantRegistry(ctx).Add(addr)
}

func (c *CommerceSmartContract) RemoveMerchant(ctx contractapi.TransactionContextInterface, addr string) error {
	logger.Infof("Chaincode Call: RemoveMerchant '%s'", addr)
	return NewMerchantRegistry(ctx).Remove(addr)
}

func (c *CommerceSmartContract) UpdateMerchantBalance(ctx contractapi.TransactionContextInterface, addr string, newBalance uint64) (*model.Merchant, error) {
	logger.Infof("Chaincode Call: UpdateMerchantBalance '%s' -> %d", addr, newBalance)
	return NewMerchantRegistry(ctx).UpdateBalance(addr, newBalance)
}

func (c *CommerceSmartContract) SetMerchantPayoutAddress(ctx contractapi.TransactionContextInterface, addr string) error {
	logger.Infof("Chaincode Call: SetMerchantPayoutAddress '%s'", addr)
	return NewMerchantRegistry(ctx).SetPayoutAddress(addr)
}

func (c *CommerceSmartContract) GetMerchantPayoutAddress(ctx contractapi.TransactionContextInterface) (string, error) {
	logger.Debug("Chaincode Call: GetMerchantPayoutAddress")
	return NewMerchantRegistry(ctx).GetPayoutAddress()
}

func (c *CommerceSmartContract) SetLiquidityOperator(ctx contractapi.TransactionContextInterface, addr string) error {
	logger.Infof("Chaincode Call: SetLiquidityOperator '%s'", addr)
	return NewMerchantRegistry(ctx).SetLiquidityOperator(addr)
}

func (c *CommerceSmartContract) GetLiquidityOperator(ctx contractapi.TransactionContextInterface) (string, error) {
	logger.Debug("Chaincode Call: GetLiquidityOperator")
	return NewMerchantRegistry(ctx).GetLiquidityOperator()
}

func (c *CommerceSmartContract) GetPlatformMerchants(ctx contractapi.TransactionContextInterface) ([]model.Merchant, error) {
	logger.Debug("Chaincode Call: GetPlatformMerchants")
	return NewMerchantRegistry(ctx).GetAll()
}

func (c *CommerceSmartContract) GetMerchantRegistrations(ctx contractapi.TransactionContextInterface, adderAddr string) ([]model.Merchant, error) {
	logger.Debugf("Chaincode Call: GetMerchantRegistrations for '%s'", adderAddr)
	return NewMerchantRegistry(ctx).GetRegistrations(adderAddr)
}

func (c *CommerceSmartContract) GetMerchantProfile(ctx contractapi.TransactionContextInterface, addr string) (*model.Merchant, error) {
	logger.Debugf("Chaincode Call: GetMerchantProfile for '%s'", addr)
	return NewMerchantRegistry(ctx).GetProfile(addr)
}

// --- ProductRegistry ---

func (c *CommerceSmartContract) AddProduct(ctx contractapi.TransactionContextInterface, id, imageRef, metadataRef, merchantAddr string) (*model.Product, error) {
	logger.Infof("Chaincode Call: AddProduct '%s' under merchant '%s'", id, merchantAddr)
	return NewProductRegistry(ctx).Add(id, imageRef, metadataRef, merchantAddr)
}

func (c *CommerceSmartContract) DeleteProduct(ctx contractapi.TransactionContextInterface, id string) error {
	logger.Infof("Chaincode Call: DeleteProduct '%s'", id)
	return NewProductRegistry(ctx).Delete(id)
}

func (c *CommerceSmartContract) UpdateProduct(ctx contractapi.TransactionContextInterface, id, imageRef, metadataRef string) (*model.Product, error) {
	logger.Infof("Chaincode Call: UpdateProduct '%s'", id)
	return NewProductRegistry(ctx).Update(id, imageRef, metadataRef)
}

func (c *CommerceSmartContract) GetProduct(ctx contractapi.TransactionContextInterface, id string) (*model.Product, error) {
	logger.Debugf("Chaincode Call: GetProduct '%s'", id)
	return NewProductRegistry(ctx).Get(id)
}

func (c *CommerceSmartContract) GetProductsByAdder(ctx contractapi.TransactionContextInterface, adderAddr string) ([]model.Product, error) {
	logger.Debugf("Chaincode Call: GetProductsByAdder '%s'", adderAddr)
	return NewProductRegistry(ctx).GetByAdder(adderAddr)
}

func (c *CommerceSmartContract) GetProductsByMerchant(ctx contractapi.TransactionContextInterface, merchantAddr string) ([]model.Product, error) {
	logger.Debugf("Chaincode Call: GetProductsByMerchant '%s'", merchantAddr)
	return NewProductRegistry(ctx).GetByMerchant(merchantAddr)
}

func (c *CommerceSmartContract) GetAllProducts(ctx contractapi.TransactionContextInterface) ([]model.Product, error) {
	logger.Debug("Chaincode Call: GetAllProducts")
	return NewProductRegistry(ctx).GetAll()
}

func (c *CommerceSmartContract) GetAllProductsPaginated(ctx contractapi.TransactionContextInterface, pageSize int32, bookmark string) (*model.PaginatedProductResponse, error) {
	logger.Debugf("Chaincode Call: GetAllProductsPaginated pageSize=%d", pageSize)
	return NewProductRegistry(ctx).GetAllPaginated(pageSize, bookmark)
}

// --- ReferenceRotator ---

func (c *CommerceSmartContract) RotateCollaborator(ctx contractapi.TransactionContextInterface, pointerName, newAddress string) (*model.CollaboratorPointer, error) {
	logger.Infof("Chaincode Call: RotateCollaborator '%s' -> '%s'", pointerName, newAddress)
	return NewReferenceRotator(ctx).Rotate(pointerName, newAddress)
}

func (c *CommerceSmartContract) GetCollaborator(ctx contractapi.TransactionContextInterface, pointerName string) (*model.CollaboratorPointer, error) {
	logger.Debugf("Chaincode Call: GetCollaborator '%s'", pointerName)
	return NewReferenceRotator(ctx).Get(pointerName)
}

// --- OrderSettlement ---

func (c *CommerceSmartContract) ApprovePayment(ctx contractapi.TransactionContextInterface, amount uint64, settlementContract string) error {
	logger.Infof("Chaincode Call: ApprovePayment %d for '%s'", amount, settlementContract)
	return NewOrderSettlement(ctx).ApprovePayment(amount, settlementContract)
}

func (c *CommerceSmartContract) ProcessOrder(ctx contractapi.TransactionContextInterface, createdBy, orderReference string, totalAmount uint64) (*model.Order, error) {
	logger.Infof("Chaincode Call: ProcessOrder ref '%s' total %d", orderReference, totalAmount)
	return NewOrderSettlement(ctx).ProcessOrder(createdBy, orderReference, totalAmount)
}

func (c *CommerceSmartContract) ResetOrderCounter(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: ResetOrderCounter")
	return NewOrderSettlement(ctx).ResetOrderCounter()
}

func (c *CommerceSmartContract) SetCommissionRate(ctx contractapi.TransactionContextInterface, rateBp uint64) error {
	logger.Infof("Chaincode Call: SetCommissionRate %d", rateBp)
	return NewOrderSettlement(ctx).SetCommissionRate(rateBp)
}

func (c *CommerceSmartContract) GetCommissionRate(ctx contractapi.TransactionContextInterface) (uint64, error) {
	logger.Debug("Chaincode Call: GetCommissionRate")
	return NewOrderSettlement(ctx).GetCommissionRate()
}

func (c *CommerceSmartContract) GetOrder(ctx contractapi.TransactionContextInterface, orderID uint64) (*model.Order, error) {
	logger.Debugf("Chaincode Call: GetOrder %d", orderID)
	return NewOrderSettlement(ctx).GetOrder(orderID)
}

func (c *CommerceSmartContract) GetAllOrders(ctx contractapi.TransactionContextInterface) ([]model.Order, error) {
	logger.Debug("Chaincode Call: GetAllOrders")
	return NewOrderSettlement(ctx).GetAllOrders()
}

// GetErrorReason extracts the discriminated reason from a failed operation,
// for integrators embedding the contract package directly.
func GetErrorReason(err error) (model.Reason, bool) {
	var ce *model.Error
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
