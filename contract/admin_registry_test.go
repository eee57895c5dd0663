package contract

import (
	"testing"
	"time"

	"commerceledger/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminAddresses(admins []model.Admin) []string {
	addrs := []string{}
	for _, a := range admins {
		addrs = append(addrs, a.Address)
	}
	return addrs
}

func TestBootstrapSeedsMasterAdmin(t *testing.T) {
	env := newTestEnv(t)

	isAdmin, err := env.contract.CheckIsAdmin(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isOwner, err := env.contract.CheckIsOwner(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.True(t, isOwner)

	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, ownerAddr, admins[0].Address)
	assert.Equal(t, ownerAddr, admins[0].AddedBy)
}

func TestBootstrapRejectsRerun(t *testing.T) {
	env := newTestEnv(t)

	err := env.contract.BootstrapLedger(env.ctx, ownerAddr, bootstrapRate, platformWallet, tokenChaincode, selfChaincode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bootstrapped")
}

func TestAddAdmin(t *testing.T) {
	env := newTestEnv(t)
	newAdmin := accountAddr(0xb2)

	env.tick(time.Minute)
	admin, err := env.contract.AddAdmin(env.ctx, newAdmin)
	require.NoError(t, err)
	assert.Equal(t, newAdmin, admin.Address)
	assert.Equal(t, ownerAddr, admin.AddedBy)
	assert.Equal(t, env.stub.now, admin.AddedAt)

	profile, err := env.contract.GetAdminProfile(env.ctx, newAdmin)
	require.NoError(t, err)
	assert.Equal(t, admin, profile)

	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ownerAddr, newAdmin}, adminAddresses(admins))

	registrations, err := env.contract.GetAdminRegistrations(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ownerAddr, newAdmin}, adminAddresses(registrations))

	assert.Contains(t, env.stub.events, "AdminAdded")
}

func TestAddAdminDuplicateLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	target := accountAddr(0xb2)
	_, err := env.contract.AddAdmin(env.ctx, target)
	require.NoError(t, err)

	before := len(env.stub.state)
	_, err = env.contract.AddAdmin(env.ctx, target)
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonAlreadyExists))

	reason, ok := GetErrorReason(err)
	require.True(t, ok)
	assert.Equal(t, model.ReasonAlreadyExists, reason)

	var ce *model.Error
	require.ErrorAs(t, err, &ce)
	conflict, ok := ce.Conflict.(*model.Admin)
	require.True(t, ok)
	assert.Equal(t, target, conflict.Address)

	assert.Equal(t, before, len(env.stub.state))
}

func TestAddAdminRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	outsider := accountAddr(0xc3)
	env.as(outsider)

	before := len(env.stub.state)
	_, err := env.contract.AddAdmin(env.ctx, accountAddr(0xd4))
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonAccessDenied))
	assert.Equal(t, before, len(env.stub.state))
}

func TestAddAdminRejectsZeroAddress(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"", "0x0000000000000000000000000000000000000000", "not-an-address"} {
		_, err := env.contract.AddAdmin(env.ctx, target)
		require.Error(t, err, "target %q", target)
		assert.True(t, model.IsReason(err, model.ReasonInvalidArgument), "target %q", target)
	}
}

func TestRemoveAdmin(t *testing.T) {
	env := newTestEnv(t)
	target := accountAddr(0xb2)
	_, err := env.contract.AddAdmin(env.ctx, target)
	require.NoError(t, err)

	require.NoError(t, env.contract.RemoveAdmin(env.ctx, target))

	isAdmin, err := env.contract.CheckIsAdmin(env.ctx, target)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ownerAddr}, adminAddresses(admins))

	registrations, err := env.contract.GetAdminRegistrations(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ownerAddr}, adminAddresses(registrations))

	_, err = env.contract.GetAdminProfile(env.ctx, target)
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonNotFound))

	err = env.contract.RemoveAdmin(env.ctx, target)
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonNotFound))
	assert.Contains(t, env.stub.events, "AdminRemoved")
}

func TestRemoveAdminOnlyTouchesTarget(t *testing.T) {
	env := newTestEnv(t)
	a := accountAddr(0xb2)
	b := accountAddr(0xb3)
	_, err := env.contract.AddAdmin(env.ctx, a)
	require.NoError(t, err)

	// b is registered by a, not by the owner.
	env.as(a)
	_, err = env.contract.AddAdmin(env.ctx, b)
	require.NoError(t, err)

	env.as(ownerAddr)
	require.NoError(t, env.contract.RemoveAdmin(env.ctx, a))

	// b stays active under its original adder.
	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ownerAddr, b}, adminAddresses(admins))

	registrations, err := env.contract.GetAdminRegistrations(env.ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b}, adminAddresses(registrations))
}

func TestReAddedAdminGetsFreshRegistration(t *testing.T) {
	env := newTestEnv(t)
	target := accountAddr(0xb2)

	first, err := env.contract.AddAdmin(env.ctx, target)
	require.NoError(t, err)
	require.NoError(t, env.contract.RemoveAdmin(env.ctx, target))

	env.tick(time.Hour)
	second, err := env.contract.AddAdmin(env.ctx, target)
	require.NoError(t, err)
	assert.True(t, second.AddedAt.After(first.AddedAt))

	profile, err := env.contract.GetAdminProfile(env.ctx, target)
	require.NoError(t, err)
	assert.Equal(t, second.AddedAt, profile.AddedAt)
}

// Views over the admin set must agree after any sequence of adds and removes:
// membership per adder partitions the full listing, and each member's profile
// matches the listing entry field for field.
func TestAdminViewsStayConsistent(t *testing.T) {
	env := newTestEnv(t)

	targets := []string{accountAddr(0x10), accountAddr(0x11), accountAddr(0x12)}
	for _, target := range targets {
		env.tick(time.Second)
		_, err := env.contract.AddAdmin(env.ctx, target)
		require.NoError(t, err)
	}
	require.NoError(t, env.contract.RemoveAdmin(env.ctx, targets[1]))

	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)

	registrations, err := env.contract.GetAdminRegistrations(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.ElementsMatch(t, adminAddresses(admins), adminAddresses(registrations))

	for _, admin := range admins {
		profile, err := env.contract.GetAdminProfile(env.ctx, admin.Address)
		require.NoError(t, err)
		assert.Equal(t, admin, *profile)
	}
}

// Removing the only active admin would make every admin-gated operation
// permanently unsatisfiable, so the registry refuses it.
func TestCannotRemoveLastAdmin(t *testing.T) {
	env := newTestEnv(t)

	err := env.contract.RemoveAdmin(env.ctx, ownerAddr)
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonInvalidArgument))

	isAdmin, err := env.contract.CheckIsAdmin(env.ctx, ownerAddr)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	// With a second admin in place the owner can hand over and leave.
	successor := accountAddr(0xb2)
	_, err = env.contract.AddAdmin(env.ctx, successor)
	require.NoError(t, err)
	require.NoError(t, env.contract.RemoveAdmin(env.ctx, ownerAddr))

	admins, err := env.contract.GetPlatformAdmins(env.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{successor}, adminAddresses(admins))

	// And the successor is in turn protected as the last admin.
	env.as(successor)
	err = env.contract.RemoveAdmin(env.ctx, successor)
	require.Error(t, err)
	assert.True(t, model.IsReason(err, model.ReasonInvalidArgument))
}

func TestGetAdminRegistrationsUnknownAdderIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	registrations, err := env.contract.GetAdminRegistrations(env.ctx, accountAddr(0xee))
	require.NoError(t, err)
	assert.NotNil(t, registrations)
	assert.Empty(t, registrations)
}
