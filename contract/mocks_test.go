package contract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"commerceledger/model"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// mockStub backs the chaincode stub with an in-memory state map. Only the
// methods the contract uses are implemented; anything else panics through the
// embedded nil interface, which is exactly what a test wants.
type mockStub struct {
	shim.ChaincodeStubInterface
	state    map[string][]byte
	events   map[string][]byte
	now      time.Time
	handlers map[string]func(args [][]byte) peer.Response
}

func newMockStub() *mockStub {
	return &mockStub{
		state:    map[string][]byte{},
		events:   map[string][]byte{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		handlers: map[string]func(args [][]byte) peer.Response{},
	}
}

func (m *mockStub) GetState(key string) ([]byte, error) {
	value, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (m *mockStub) PutState(key string, value []byte) error {
	m.state[key] = value
	return nil
}

func (m *mockStub) DelState(key string) error {
	delete(m.state, key)
	return nil
}

func (m *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	key := "\x00" + objectType + "\x00"
	for _, attr := range attributes {
		key += attr + "\x00"
	}
	return key, nil
}

func (m *mockStub) sortedKeysWithPrefix(prefix string) []string {
	keys := []string{}
	for key := range m.state {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *mockStub) GetStateByPartialCompositeKey(objectType string, attributes []string) (shim.StateQueryIteratorInterface, error) {
	prefix, _ := m.CreateCompositeKey(objectType, attributes)
	return &mockIterator{stub: m, keys: m.sortedKeysWithPrefix(prefix)}, nil
}

func (m *mockStub) GetStateByPartialCompositeKeyWithPagination(objectType string, attributes []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	prefix, _ := m.CreateCompositeKey(objectType, attributes)
	keys := m.sortedKeysWithPrefix(prefix)
	start := 0
	if bookmark != "" {
		for i, key := range keys {
			if key >= bookmark {
				start = i
				break
			}
		}
	}
	end := start + int(pageSize)
	nextBookmark := ""
	if end < len(keys) {
		nextBookmark = keys[end]
	} else {
		end = len(keys)
	}
	page := keys[start:end]
	return &mockIterator{stub: m, keys: page},
		&peer.QueryResponseMetadata{Bookmark: nextBookmark, FetchedRecordsCount: int32(len(page))}, nil
}

func (m *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(m.now), nil
}

func (m *mockStub) SetEvent(name string, payload []byte) error {
	m.events[name] = payload
	return nil
}

func (m *mockStub) InvokeChaincode(chaincodeName string, args [][]byte, channel string) peer.Response {
	handler, ok := m.handlers[chaincodeName]
	if !ok {
		return peer.Response{Status: shim.ERROR, Message: fmt.Sprintf("chaincode '%s' not found", chaincodeName)}
	}
	return handler(args)
}

type mockIterator struct {
	stub *mockStub
	keys []string
	pos  int
}

func (it *mockIterator) HasNext() bool {
	return it.pos < len(it.keys)
}

func (it *mockIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("no more items")
	}
	key := it.keys[it.pos]
	it.pos++
	return &queryresult.KV{Key: key, Value: it.stub.state[key]}, nil
}

func (it *mockIterator) Close() error { return nil }

// mockClientIdentity carries the caller's platform address in the
// commerce.address certificate attribute.
type mockClientIdentity struct {
	cid.ClientIdentity
	id      string
	mspID   string
	address string
}

func (m *mockClientIdentity) GetID() (string, error)    { return m.id, nil }
func (m *mockClientIdentity) GetMSPID() (string, error) { return m.mspID, nil }

func (m *mockClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	if attrName == addressAttribute && m.address != "" {
		return m.address, true, nil
	}
	return "", false, nil
}

type mockContext struct {
	contractapi.TransactionContextInterface
	stub     *mockStub
	identity *mockClientIdentity
}

func (c *mockContext) GetStub() shim.ChaincodeStubInterface { return c.stub }
func (c *mockContext) GetClientIdentity() cid.ClientIdentity {
	return c.identity
}

// --- Collaborator fakes wired through InvokeChaincode ---

// fakeRegistry simulates an external registry collaborator for rotation and
// delegated role checks.
type fakeRegistry struct {
	name          string
	reportedAddr  string
	admins        map[string]bool
	merchants     map[string]bool
	probeFailures bool
	probeCount    int
}

func (f *fakeRegistry) handle(args [][]byte) peer.Response {
	fn := string(args[0])
	switch fn {
	case "SelfIdentify":
		f.probeCount++
		if f.probeFailures {
			return peer.Response{Status: shim.ERROR, Message: "registry unavailable"}
		}
		payload, _ := json.Marshal(model.SelfIdentity{Name: f.name, Address: f.reportedAddr, Timestamp: time.Now()})
		return peer.Response{Status: shim.OK, Payload: payload}
	case "CheckIsAdmin":
		return boolResponse(f.admins[string(args[1])])
	case "CheckIsMerchant":
		return boolResponse(f.merchants[string(args[1])])
	}
	return peer.Response{Status: shim.ERROR, Message: "unknown function " + fn}
}

// fakeToken simulates the fungible-token collaborator and records every call.
type fakeToken struct {
	address   string
	transfers []tokenTransfer
	approvals []tokenApproval
	failFrom  int // fail the Nth transfer (1-based); 0 disables
	onCall    func(fn string)
}

type tokenTransfer struct {
	from, to string
	amount   uint64
}

type tokenApproval struct {
	spender string
	amount  uint64
}

func (f *fakeToken) handle(args [][]byte) peer.Response {
	fn := string(args[0])
	if f.onCall != nil {
		f.onCall(fn)
	}
	switch fn {
	case "SelfIdentify":
		payload, _ := json.Marshal(model.SelfIdentity{Name: "token", Address: f.address, Timestamp: time.Now()})
		return peer.Response{Status: shim.OK, Payload: payload}
	case "TransferFrom":
		amount, _ := strconv.ParseUint(string(args[3]), 10, 64)
		if f.failFrom > 0 && len(f.transfers)+1 == f.failFrom {
			return peer.Response{Status: shim.ERROR, Message: "insufficient allowance"}
		}
		f.transfers = append(f.transfers, tokenTransfer{from: string(args[1]), to: string(args[2]), amount: amount})
		return boolResponse(true)
	case "Approve":
		amount, _ := strconv.ParseUint(string(args[2]), 10, 64)
		f.approvals = append(f.approvals, tokenApproval{spender: string(args[1]), amount: amount})
		return boolResponse(true)
	}
	return peer.Response{Status: shim.ERROR, Message: "unknown function " + fn}
}

func boolResponse(value bool) peer.Response {
	return peer.Response{Status: shim.OK, Payload: []byte(strconv.FormatBool(value))}
}

// --- Test environment ---

const (
	selfChaincode  = "commercecc"
	tokenChaincode = "tokencc"
	bootstrapRate  = uint64(200) // 2%
)

// accountAddr derives a deterministic well-formed platform address.
func accountAddr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

var (
	ownerAddr      = accountAddr(0xa1)
	platformWallet = accountAddr(0xf1)
)

type testEnv struct {
	t        *testing.T
	contract *CommerceSmartContract
	stub     *mockStub
	ctx      *mockContext
	token    *fakeToken
}

// newTestEnv builds a bootstrapped environment with the owner as caller and
// the fake token wired in.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stub := newMockStub()
	identity := &mockClientIdentity{id: "x509::CN=owner", mspID: "PlatformMSP", address: ownerAddr}
	env := &testEnv{
		t:        t,
		contract: &CommerceSmartContract{},
		stub:     stub,
		ctx:      &mockContext{stub: stub, identity: identity},
		token:    &fakeToken{address: tokenChaincode},
	}
	stub.handlers[tokenChaincode] = env.token.handle
	require.NoError(t, env.contract.BootstrapLedger(env.ctx, ownerAddr, bootstrapRate, platformWallet, tokenChaincode, selfChaincode))
	return env
}

// as switches the transaction caller.
func (e *testEnv) as(address string) {
	e.ctx.identity = &mockClientIdentity{id: "x509::CN=" + address, mspID: "PlatformMSP", address: address}
}

// tick advances the mock transaction timestamp.
func (e *testEnv) tick(d time.Duration) {
	e.stub.now = e.stub.now.Add(d)
}

// installRegistry wires a fake external registry collaborator.
func (e *testEnv) installRegistry(chaincodeName string, reg *fakeRegistry) {
	e.stub.handlers[chaincodeName] = reg.handle
}
