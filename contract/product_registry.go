package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"commerceledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var productLogger = flogging.MustGetLogger("commerceledger.productregistry")

const maxReferenceLength = 512

// ProductRegistry owns the Product entity set: canonical records by id plus
// the existence flag and two membership indexes (per adder, per merchant).
// All list views dereference the canonical record, so after any mutation
// every view agrees on every field.
type ProductRegistry struct {
	Ctx contractapi.TransactionContextInterface
}

func NewProductRegistry(ctx contractapi.TransactionContextInterface) *ProductRegistry {
	return &ProductRegistry{Ctx: ctx}
}

func (r *ProductRegistry) recordKey(id string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(productObjectType, []string{id})
}

func (r *ProductRegistry) flagKey(id string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(productFlagObjectType, []string{id})
}

func (r *ProductRegistry) adderKey(adder, id string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(productAdderIndexType, []string{adder, id})
}

func (r *ProductRegistry) merchantKey(merchant, id string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(productMerchantIndexType, []string{merchant, id})
}

func validateProductID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewError(model.ReasonInvalidArgument, "product id cannot be empty")
	}
	if len(id) > maxReferenceLength {
		return model.NewError(model.ReasonInvalidArgument, "product id exceeds max length %d", maxReferenceLength)
	}
	return nil
}

func validateReference(ref, field string) error {
	if len(ref) > maxReferenceLength {
		return model.NewError(model.ReasonInvalidArgument, "%s exceeds max length %d", field, maxReferenceLength)
	}
	return nil
}

// Add registers a new product under an active merchant. Caller must be a
// verified manager; the merchant is validated through the merchantRegistry
// pointer, so a rotated registry is consulted transparently.
func (r *ProductRegistry) Add(id, imageRef, metadataRef, merchantAddr string) (*model.Product, error) {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: failed to get actor info: %w", err)
	}
	if err := requireVerifiedManager(r.Ctx, actor); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	if err := validateProductID(id); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	if err := validateReference(imageRef, "imageReference"); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	if err := validateReference(metadataRef, "metadataReference"); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	if err := requireAddress(merchantAddr, "merchant address"); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}

	existing, err := r.activeProduct(id)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflict(existing, "product '%s' already exists", id)
	}

	isMerchant, err := NewAccessGate(r.Ctx).IsMerchant(merchantAddr)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: failed to validate merchant '%s': %w", merchantAddr, err)
	}
	if !isMerchant {
		return nil, model.NewError(model.ReasonNotFound, "address '%s' is not an active merchant", merchantAddr)
	}

	now, err := getCurrentTxTimestamp(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	product := &model.Product{
		ObjectType:        productObjectType,
		ID:                id,
		AddedBy:           actor.address,
		AddedAt:           now,
		UpdatedAt:         now,
		ImageReference:    imageRef,
		MetadataReference: metadataRef,
		MerchantAddress:   merchantAddr,
	}
	if err := r.writeProduct(product); err != nil {
		return nil, fmt.Errorf("AddProduct: %w", err)
	}
	flagKey, err := r.flagKey(id)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: failed to create product flag key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().PutState(flagKey, []byte("true")); err != nil {
		return nil, fmt.Errorf("AddProduct: failed to set product flag for '%s': %w", id, err)
	}
	adderKey, err := r.adderKey(actor.address, id)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: failed to create adder index key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().PutState(adderKey, []byte(id)); err != nil {
		return nil, fmt.Errorf("AddProduct: failed to save adder index entry for '%s': %w", id, err)
	}
	merchantKey, err := r.merchantKey(merchantAddr, id)
	if err != nil {
		return nil, fmt.Errorf("AddProduct: failed to create merchant index key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().PutState(merchantKey, []byte(id)); err != nil {
		return nil, fmt.Errorf("AddProduct: failed to save merchant index entry for '%s': %w", id, err)
	}

	emitNotification(r.Ctx, "ProductAdded", "productregistry", map[string]interface{}{
		"id":       id,
		"merchant": merchantAddr,
		"addedBy":  actor.address,
	})
	productLogger.Infof("Product '%s' added under merchant '%s' by '%s'", id, merchantAddr, actor.address)
	return product, nil
}

func (r *ProductRegistry) writeProduct(product *model.Product) error {
	recordBytes, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product '%s': %w", product.ID, err)
	}
	recordKey, err := r.recordKey(product.ID)
	if err != nil {
		return fmt.Errorf("failed to create product key for '%s': %w", product.ID, err)
	}
	if err := r.Ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return fmt.Errorf("failed to save product '%s': %w", product.ID, err)
	}
	return nil
}

// Delete removes a product from the canonical space and every index.
func (r *ProductRegistry) Delete(id string) error {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return fmt.Errorf("DeleteProduct: failed to get actor info: %w", err)
	}
	if err := requireVerifiedManager(r.Ctx, actor); err != nil {
		return fmt.Errorf("DeleteProduct: %w", err)
	}

	product, err := r.activeProduct(id)
	if err != nil {
		return fmt.Errorf("DeleteProduct: %w", err)
	}
	if product == nil {
		return model.NewError(model.ReasonNotFound, "product '%s' not found", id)
	}

	recordKey, err := r.recordKey(id)
	if err != nil {
		return fmt.Errorf("DeleteProduct: failed to create product key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().DelState(recordKey); err != nil {
		return fmt.Errorf("DeleteProduct: failed to delete product '%s': %w", id, err)
	}
	flagKey, err := r.flagKey(id)
	if err != nil {
		return fmt.Errorf("DeleteProduct: failed to create product flag key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().DelState(flagKey); err != nil {
		return fmt.Errorf("DeleteProduct: failed to clear product flag for '%s': %w", id, err)
	}
	adderKey, err := r.adderKey(product.AddedBy, id)
	if err != nil {
		return fmt.Errorf("DeleteProduct: failed to create adder index key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().DelState(adderKey); err != nil {
		return fmt.Errorf("DeleteProduct: failed to delete adder index entry for '%s': %w", id, err)
	}
	merchantKey, err := r.merchantKey(product.MerchantAddress, id)
	if err != nil {
		return fmt.Errorf("DeleteProduct: failed to create merchant index key for '%s': %w", id, err)
	}
	if err := r.Ctx.GetStub().DelState(merchantKey); err != nil {
		return fmt.Errorf("DeleteProduct: failed to delete merchant index entry for '%s': %w", id, err)
	}

	emitNotification(r.Ctx, "ProductDeleted", "productregistry", map[string]interface{}{
		"id":        id,
		"merchant":  product.MerchantAddress,
		"deletedBy": actor.address,
	})
	productLogger.Infof("Product '%s' deleted by '%s'", id, actor.address)
	return nil
}

// Update rewrites a product's references and bumps UpdatedAt, preserving
// AddedBy, AddedAt, and MerchantAddress. The merchant is not re-validated on
// update. Every view observes the new snapshot since all views dereference
// the canonical record.
func (r *ProductRegistry) Update(id, imageRef, metadataRef string) (*model.Product, error) {
	actor, err := getCurrentActorInfo(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("UpdateProduct: failed to get actor info: %w", err)
	}
	if err := requireVerifiedManager(r.Ctx, actor); err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}
	if err := validateReference(imageRef, "imageReference"); err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}
	if err := validateReference(metadataRef, "metadataReference"); err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}

	product, err := r.activeProduct(id)
	if err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}
	if product == nil {
		return nil, model.NewError(model.ReasonNotFound, "product '%s' not found", id)
	}

	now, err := getCurrentTxTimestamp(r.Ctx)
	if err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}
	product.ImageReference = imageRef
	product.MetadataReference = metadataRef
	product.UpdatedAt = now
	if err := r.writeProduct(product); err != nil {
		return nil, fmt.Errorf("UpdateProduct: %w", err)
	}

	emitNotification(r.Ctx, "ProductUpdated", "productregistry", map[string]interface{}{
		"id":        id,
		"updatedBy": actor.address,
	})
	productLogger.Infof("Product '%s' updated by '%s'", id, actor.address)
	return product, nil
}

// activeProduct returns the canonical record for an existing product, or nil.
func (r *ProductRegistry) activeProduct(id string) (*model.Product, error) {
	flagKey, err := r.flagKey(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create product flag key for '%s': %w", id, err)
	}
	flagBytes, err := r.Ctx.GetStub().GetState(flagKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error checking product flag for '%s': %w", id, err)
	}
	if flagBytes == nil || string(flagBytes) != "true" {
		return nil, nil
	}
	recordKey, err := r.recordKey(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create product key for '%s': %w", id, err)
	}
	recordBytes, err := r.Ctx.GetStub().GetState(recordKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error reading product '%s': %w", id, err)
	}
	if recordBytes == nil {
		return nil, nil
	}
	var product model.Product
	if err := json.Unmarshal(recordBytes, &product); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product '%s': %w", id, err)
	}
	return &product, nil
}

// Get returns an existing product.
func (r *ProductRegistry) Get(id string) (*model.Product, error) {
	product, err := r.activeProduct(id)
	if err != nil {
		return nil, fmt.Errorf("GetProduct: %w", err)
	}
	if product == nil {
		return nil, model.NewError(model.ReasonNotFound, "product '%s' not found", id)
	}
	return product, nil
}

// GetByAdder returns the products registered by a given adder. The adder must
// be an active admin.
func (r *ProductRegistry) GetByAdder(adder string) ([]model.Product, error) {
	isAdmin, err := NewAccessGate(r.Ctx).IsAdmin(adder)
	if err != nil {
		return nil, fmt.Errorf("GetProductsByAdder: failed to check adder '%s': %w", adder, err)
	}
	if !isAdmin {
		return nil, model.NewError(model.ReasonNotFound, "address '%s' is not an active admin", adder)
	}
	return r.collectIndex(productAdderIndexType, adder)
}

// GetByMerchant returns the products listed under a merchant.
func (r *ProductRegistry) GetByMerchant(merchant string) ([]model.Product, error) {
	return r.collectIndex(productMerchantIndexType, merchant)
}

func (r *ProductRegistry) collectIndex(indexType, owner string) ([]model.Product, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(indexType, []string{owner})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s iterator for '%s': %w", indexType, owner, err)
	}
	defer iterator.Close()

	products := []model.Product{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			productLogger.Warningf("collectIndex: failed to get next %s entry: %v. Skipping.", indexType, iterErr)
			continue
		}
		product, err := r.activeProduct(string(queryResponse.Value))
		if err != nil {
			return nil, err
		}
		if product != nil {
			products = append(products, *product)
		}
	}
	return products, nil
}

// GetAll returns every existing product.
func (r *ProductRegistry) GetAll() ([]model.Product, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(productObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllProducts: failed to get products iterator: %w", err)
	}
	defer iterator.Close()

	products := []model.Product{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			productLogger.Warningf("GetAllProducts: failed to get next product: %v. Skipping.", iterErr)
			continue
		}
		var product model.Product
		if err := json.Unmarshal(queryResponse.Value, &product); err != nil {
			productLogger.Warningf("GetAllProducts: failed to unmarshal product at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

// GetAllPaginated returns one page of products with a resumption bookmark.
func (r *ProductRegistry) GetAllPaginated(pageSize int32, bookmark string) (*model.PaginatedProductResponse, error) {
	if pageSize <= 0 {
		return nil, model.NewError(model.ReasonInvalidArgument, "pageSize must be positive")
	}
	iterator, metadata, err := r.Ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(
		productObjectType, []string{}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("GetAllProductsPaginated: failed to get paginated iterator: %w", err)
	}
	defer iterator.Close()

	products := []*model.Product{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			productLogger.Warningf("GetAllProductsPaginated: failed to get next product: %v. Skipping.", iterErr)
			continue
		}
		var product model.Product
		if err := json.Unmarshal(queryResponse.Value, &product); err != nil {
			productLogger.Warningf("GetAllProductsPaginated: failed to unmarshal product at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		products = append(products, &product)
	}
	return &model.PaginatedProductResponse{
		Products:     products,
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: metadata.GetFetchedRecordsCount(),
	}, nil
}
