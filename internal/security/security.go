// Package security resolves the workflow level an approver may act at.
package security

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// A subject role may act as a step role (act) within a workflow type (obj).
// "*" as obj grants the role across every workflow type.
const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && r.act == p.act
`

// Policy is the static role policy, loaded once at startup.
type Policy struct {
	// Grants are "role:step_role" or "role:step_role:workflow_type" entries.
	Grants []string
	// Inherits are "parent:child" entries; parent may act wherever child may.
	Inherits []string
	// GlobalRoles are not restricted to the approver's institution scope.
	GlobalRoles []string
	// CompleteRoles finish the whole chain with a single approval.
	CompleteRoles []string
	// AllowSkipLevels lets an approver act at a later level when an earlier
	// required level is not theirs.
	AllowSkipLevels bool
}

// Service implements the approval authorization oracle.
type Service struct {
	enforcer        *casbin.Enforcer
	globalRoles     []string
	completeRoles   []string
	allowSkipLevels bool
	log             *logger.Logger
}

// New builds the enforcer from the policy.
func New(p Policy, log *logger.Logger) (*Service, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load policy model")
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create enforcer")
	}

	for _, g := range p.Grants {
		parts := strings.Split(g, ":")
		obj := "*"
		switch len(parts) {
		case 2:
		case 3:
			obj = parts[2]
		default:
			return nil, errors.InvalidInput("grants", fmt.Sprintf("invalid grant %q, want role:step_role[:workflow_type]", g))
		}
		if _, err := enforcer.AddPolicy(parts[0], obj, parts[1]); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to add grant %q", g))
		}
	}
	for _, in := range p.Inherits {
		parent, child, ok := strings.Cut(in, ":")
		if !ok || parent == "" || child == "" {
			return nil, errors.InvalidInput("inherits", fmt.Sprintf("invalid inheritance %q, want parent:child", in))
		}
		if _, err := enforcer.AddGroupingPolicy(parent, child); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to add inheritance %q", in))
		}
	}

	return &Service{
		enforcer:        enforcer,
		globalRoles:     p.GlobalRoles,
		completeRoles:   p.CompleteRoles,
		allowSkipLevels: p.AllowSkipLevels,
		log:             log,
	}, nil
}

// CanActAs reports whether any of roles may sign off a step owned by stepRole.
func (s *Service) CanActAs(roles []string, workflowType, stepRole string) bool {
	for _, role := range roles {
		ok, err := s.enforcer.Enforce(role, workflowType, stepRole)
		if err != nil {
			s.log.Warn().Err(err).Str("role", role).Str("step_role", stepRole).Msg("policy evaluation failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// CoversInstitution reports whether approver may act on requests of institutionID.
func (s *Service) CoversInstitution(approver *repository.Approver, institutionID string) bool {
	for _, role := range approver.Roles {
		if slices.Contains(s.globalRoles, role) {
			return true
		}
	}
	if approver.InstitutionID != "" && approver.InstitutionID == institutionID {
		return true
	}
	return slices.Contains(approver.Scope, institutionID)
}

// CompletesChain reports whether an approval by approver finishes the
// request regardless of the levels still open.
func (s *Service) CompletesChain(approver *repository.Approver) bool {
	if approver == nil {
		return false
	}
	for _, role := range approver.Roles {
		if slices.Contains(s.completeRoles, role) {
			return true
		}
	}
	return false
}

func stepMatches(s *Service, step repository.WorkflowStep, wf *repository.ApprovalWorkflow, approver *repository.Approver) bool {
	if slices.Contains(step.Delegates, approver.ID) {
		return true
	}
	return step.Role != "" && s.CanActAs(approver.Roles, wf.WorkflowType, step.Role)
}

// DetermineApprovalLevelForApprover returns the level approver acts at on req.
// Steps below the request's current level are never eligible. It fails with
// FORBIDDEN when no level applies.
func (s *Service) DetermineApprovalLevelForApprover(
	_ context.Context,
	req *repository.DataApprovalRequest,
	wf *repository.ApprovalWorkflow,
	approver *repository.Approver,
) (int, error) {
	if approver == nil || approver.ID == "" {
		return 0, errors.New(errors.ErrCodeUnauthorized, "approver is not authenticated")
	}
	if !s.CoversInstitution(approver, req.InstitutionID) {
		return 0, errors.Forbidden(fmt.Sprintf("approver %s does not cover institution %s", approver.ID, req.InstitutionID))
	}

	for _, step := range wf.Steps {
		if step.Level < req.CurrentApprovalLevel {
			continue
		}
		if stepMatches(s, step, wf, approver) {
			return step.Level, nil
		}
		if (step.Required || wf.RequireAllLevels) && !s.allowSkipLevels {
			break
		}
	}

	return 0, errors.Forbidden(fmt.Sprintf(
		"approver %s is not authorized at level %d or above", approver.ID, req.CurrentApprovalLevel))
}
