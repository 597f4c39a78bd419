package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/yardcraft/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestCustomerCanUseOwnSurface(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "auth0|alice", RoleCustomer, ObjectGeneration, ActionGenerationSubmit))
	require.NoError(t, svc.Authorize(ctx, "auth0|alice", RoleCustomer, ObjectBalance, ActionBalanceView))
	require.NoError(t, svc.Authorize(ctx, "auth0|alice", RoleCustomer, ObjectCheckout, ActionCheckoutCreate))
}

func TestCustomerCannotAdjust(t *testing.T) {
	svc := newTestService(t)

	err := svc.Authorize(context.Background(), "auth0|alice", RoleCustomer, ObjectAccount, ActionAccountAdjust)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOperatorInheritsCustomerGrants(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "ops-1", RoleOperator, ObjectAccount, ActionAccountAdjust))
	require.NoError(t, svc.Authorize(ctx, "ops-1", RoleOperator, ObjectGeneration, ActionGenerationRecover))
	require.NoError(t, svc.Authorize(ctx, "ops-1", RoleOperator, ObjectGeneration, ActionGenerationView))
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "ops-2", RoleOperator, ObjectAccount, ActionAccountDeactivate))
	err := svc.Authorize(ctx, "ops-2", RoleCustomer, ObjectAccount, ActionAccountDeactivate)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, " ", RoleCustomer, ObjectBalance, ActionBalanceView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "a", "root", ObjectBalance, ActionBalanceView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, "a", RoleCustomer, "", ActionBalanceView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "a", RoleCustomer, ObjectBalance, ""), ErrInvalidAction)
}
