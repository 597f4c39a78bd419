package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obslogger "github.com/smallbiznis/yardcraft/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
)

const (
	ObjectGeneration = "generation"
	ObjectBalance    = "balance"
	ObjectLedger     = "ledger"
	ObjectCheckout   = "checkout"
	ObjectAutoReload = "auto_reload"
	ObjectAccount    = "account"
)

const (
	ActionGenerationSubmit  = "generation.submit"
	ActionGenerationView    = "generation.view"
	ActionGenerationRecover = "generation.recover"

	ActionBalanceView = "balance.view"
	ActionLedgerView  = "ledger.view"

	ActionCheckoutCreate = "checkout.create"

	ActionAutoReloadConfigure = "auto_reload.configure"

	ActionAccountRegister   = "account.register"
	ActionAccountAdjust     = "account.adjust"
	ActionAccountDeactivate = "account.deactivate"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleCustomer, RoleOperator:
	default:
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor)
	if err := s.ensureGrouping(subject, roleName(role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		obslogger.WithContext(ctx, s.log).Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping binds the subject to exactly one role. The role comes
// from the token, so a changed claim replaces the stored link.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func roleName(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	customer := roleName(RoleCustomer)
	operator := roleName(RoleOperator)

	policies := [][]string{
		{customer, ObjectGeneration, ActionGenerationSubmit},
		{customer, ObjectGeneration, ActionGenerationView},
		{customer, ObjectBalance, ActionBalanceView},
		{customer, ObjectLedger, ActionLedgerView},
		{customer, ObjectCheckout, ActionCheckoutCreate},
		{customer, ObjectAutoReload, ActionAutoReloadConfigure},
		{customer, ObjectAccount, ActionAccountRegister},

		{operator, ObjectAccount, ActionAccountAdjust},
		{operator, ObjectAccount, ActionAccountDeactivate},
		{operator, ObjectGeneration, ActionGenerationRecover},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Operators can do everything a customer can.
	if _, err := enforcer.AddGroupingPolicy(operator, customer); err != nil {
		return err
	}
	return nil
}
