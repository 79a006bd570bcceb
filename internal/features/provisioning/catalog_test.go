package provisioning

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/rad"
)

func TestCreateBackendSealsPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.CreateBackend(h.ctx, 7, &catalog.Backend{Name: "r2"}, "pw")
	assert.ErrorIs(t, err, common.ErrNotAdmin)

	b, err := h.orch.CreateBackend(h.ctx, adminID, &catalog.Backend{
		Name: "r2", Kind: catalog.BackendMikroTik, Host: "10.0.0.2", Port: 8728, Username: "api",
	}, "router-pass")
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	assert.NotEqual(t, "router-pass", string(b.Password))

	plain, err := h.orch.box.Open(b.Password)
	require.NoError(t, err)
	assert.Equal(t, "router-pass", plain)
}

func TestPublishPlanReplacesPreviousVersion(t *testing.T) {
	h := newHarness(t)

	next := h.publish("month", 35)
	assert.Greater(t, next.Version, h.plan.Version)

	plans, err := h.orch.Plans(h.ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, next.ID, plans[0].ID)
	assert.True(t, plans[0].Price.Equal(decimal.NewFromInt(35)))

	// старая версия больше не продаётся
	_, err = h.orch.Purchase(h.ctx, 1, h.plan.ID)
	assert.ErrorIs(t, err, common.ErrPlanInactive)
}

func TestPublishPlanNeedsProfile(t *testing.T) {
	h := newHarness(t)
	h.rad.Fail("ensure_profile", rad.ErrRejected, 1)

	_, err := h.orch.PublishPlan(h.ctx, adminID, &catalog.Plan{
		Family: "year", Name: "Год", Price: decimal.NewFromInt(300), ValidityDays: 365,
		RemoteProfile: "year", BackendID: h.backendID,
	})
	require.ErrorIs(t, err, common.ErrProvisioningFailed)

	plans, err := h.orch.Plans(h.ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	_, err = h.orch.PublishPlan(h.ctx, adminID, &catalog.Plan{
		Family: "year", Price: decimal.NewFromInt(-1), ValidityDays: 365, BackendID: h.backendID,
	})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	calls := h.rad.Calls("ensure_profile")
	_, err = h.orch.PublishPlan(h.ctx, adminID, &catalog.Plan{
		Family: "free", Name: "Пробный", Price: decimal.Zero, ValidityDays: 3,
		RemoteProfile: "free", BackendID: h.backendID,
	})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	assert.Equal(t, calls, h.rad.Calls("ensure_profile"))
}

func TestSyncProfiles(t *testing.T) {
	h := newHarness(t)
	before := h.rad.Calls("ensure_profile")

	require.NoError(t, h.orch.SyncProfiles(h.ctx))
	assert.Equal(t, before+1, h.rad.Calls("ensure_profile"))

	h.rad.Fail("ensure_profile", rad.ErrUnreachable, -1)
	err := h.orch.SyncProfiles(h.ctx)
	assert.ErrorContains(t, err, "1 из 1")
	h.rad.Heal("ensure_profile")
}
