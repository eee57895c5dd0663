package contract

import (
	"encoding/json"
	"strconv"
	"strings"

	"commerceledger/model"

	"github.com/hyperledger/fabric-chaincode-go/shim"
)

// AdminOracle is the narrow view of an external registry contract used for
// delegated role checks and the rotation liveness probe.
type AdminOracle interface {
	CheckIsAdmin(addr string) (bool, error)
	CheckIsMerchant(addr string) (bool, error)
	SelfIdentify() (*model.SelfIdentity, error)
}

// IdentityToken is the fungible-value collaborator used by order settlement.
// Non-success on any call is fatal to the calling operation.
type IdentityToken interface {
	TransferFrom(from, to string, amount uint64) error
	Approve(spender string, amount uint64) error
}

// chaincodeOracle talks to a collaborator registry through its chaincode
// address on the same channel.
type chaincodeOracle struct {
	stub    shim.ChaincodeStubInterface
	address string
}

func newChaincodeOracle(stub shim.ChaincodeStubInterface, address string) *chaincodeOracle {
	return &chaincodeOracle{stub: stub, address: address}
}

func toChaincodeArgs(args ...string) [][]byte {
	ccArgs := make([][]byte, len(args))
	for i, a := range args {
		ccArgs[i] = []byte(a)
	}
	return ccArgs
}

func (o *chaincodeOracle) invoke(args ...string) ([]byte, error) {
	resp := o.stub.InvokeChaincode(o.address, toChaincodeArgs(args...), "")
	if resp.Status != shim.OK {
		return nil, model.NewError(model.ReasonExternalCallFailed,
			"collaborator '%s' rejected %s: %s", o.address, args[0], resp.Message)
	}
	return resp.Payload, nil
}

func (o *chaincodeOracle) checkBool(fn, addr string) (bool, error) {
	payload, err := o.invoke(fn, addr)
	if err != nil {
		return false, err
	}
	result, err := strconv.ParseBool(strings.TrimSpace(string(payload)))
	if err != nil {
		return false, model.NewError(model.ReasonExternalCallFailed,
			"collaborator '%s' returned a non-boolean %s payload '%s'", o.address, fn, string(payload))
	}
	return result, nil
}

func (o *chaincodeOracle) CheckIsAdmin(addr string) (bool, error) {
	return o.checkBool("CheckIsAdmin", addr)
}

func (o *chaincodeOracle) CheckIsMerchant(addr string) (bool, error) {
	return o.checkBool("CheckIsMerchant", addr)
}

func (o *chaincodeOracle) SelfIdentify() (*model.SelfIdentity, error) {
	payload, err := o.invoke("SelfIdentify")
	if err != nil {
		return nil, err
	}
	var identity model.SelfIdentity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, model.NewError(model.ReasonExternalCallFailed,
			"collaborator '%s' returned a malformed SelfIdentify payload: %v", o.address, err)
	}
	return &identity, nil
}

// chaincodeToken talks to the fungible-token collaborator chaincode.
type chaincodeToken struct {
	stub    shim.ChaincodeStubInterface
	address string
}

func newChaincodeToken(stub shim.ChaincodeStubInterface, address string) *chaincodeToken {
	return &chaincodeToken{stub: stub, address: address}
}

func (t *chaincodeToken) call(args ...string) error {
	resp := t.stub.InvokeChaincode(t.address, toChaincodeArgs(args...), "")
	if resp.Status != shim.OK {
		return model.NewError(model.ReasonExternalCallFailed,
			"token '%s' rejected %s: %s", t.address, args[0], resp.Message)
	}
	// Tokens report failure either through the response status or a false payload.
	trimmed := strings.TrimSpace(string(resp.Payload))
	if trimmed != "" {
		if ok, err := strconv.ParseBool(trimmed); err == nil && !ok {
			return model.NewError(model.ReasonExternalCallFailed,
				"token '%s' returned failure from %s", t.address, args[0])
		}
	}
	return nil
}

func (t *chaincodeToken) TransferFrom(from, to string, amount uint64) error {
	return t.call("TransferFrom", from, to, strconv.FormatUint(amount, 10))
}

func (t *chaincodeToken) Approve(spender string, amount uint64) error {
	return t.call("Approve", spender, strconv.FormatUint(amount, 10))
}
