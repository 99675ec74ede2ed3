package permissions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

// Rule names.
const (
	RuleManagerApproval     = "manager_approval"
	RuleEmailDomain         = "email_domain"
	RuleLDAPAttribute       = "ldap_attribute"
	RuleLDAPGroupMembership = "ldap_group_membership"
)

// Result is the outcome of one rule. A rule that cannot decide yet reports
// Processed false; Approved is only meaningful when Processed is true.
type Result struct {
	Approved  bool
	Processed bool
}

// Input is what a rule sees. Logs is empty during prevalidation.
type Input struct {
	Rule    config.PermissionRule
	User    *models.User
	Logs    []models.ApprovalLog
	Backend subsystem.PermissionBackend
}

type evaluator func(ctx context.Context, in Input) (Result, error)

var evaluators = map[string]evaluator{ //nolint:gochecknoglobals
	RuleManagerApproval:     managerApproval,
	RuleEmailDomain:         emailDomain,
	RuleLDAPAttribute:       ldapAttribute,
	RuleLDAPGroupMembership: ldapGroupMembership,
}

// Evaluate runs the rule named by in.Rule.Rule.
func Evaluate(ctx context.Context, in Input) (Result, error) {
	fn, ok := evaluators[in.Rule.Rule]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRule, in.Rule.Rule)
	}

	return fn(ctx, in)
}

// managerApproval approves once Count distinct managers approved. Any
// rejection by a manager rejects the request regardless of earlier approvals.
func managerApproval(_ context.Context, in Input) (Result, error) {
	need := max(in.Rule.Count, 1)
	approvals := map[string]bool{}

	for _, l := range in.Logs {
		if !slices.Contains(in.Rule.Managers, l.CreatedBy) {
			continue
		}

		if !l.Approved {
			return Result{Processed: true}, nil
		}

		approvals[l.CreatedBy] = true
	}

	if len(approvals) >= need {
		return Result{Approved: true, Processed: true}, nil
	}

	return Result{}, nil
}

func emailDomain(_ context.Context, in Input) (Result, error) {
	domain := "@" + strings.ToLower(strings.TrimPrefix(in.Rule.Domain, "@"))

	return Result{
		Approved:  strings.HasSuffix(strings.ToLower(in.User.Email), domain),
		Processed: true,
	}, nil
}

func ldapAttribute(ctx context.Context, in Input) (Result, error) {
	match, ok := operators[in.Rule.Operator]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOperator, in.Rule.Operator)
	}

	values, err := in.Backend.UserAttribute(ctx, in.User, in.Rule.Attribute)
	if errors.Is(err, directory.ErrEntryNotFound) {
		return Result{Processed: true}, nil
	}

	if err != nil {
		return Result{}, err
	}

	approved := slices.ContainsFunc(values, func(v string) bool { return match(v, in.Rule.Value) })

	return Result{Approved: approved, Processed: true}, nil
}

func ldapGroupMembership(ctx context.Context, in Input) (Result, error) {
	member, err := in.Backend.IsMember(ctx, in.User, in.Rule.GroupDN)
	if err != nil {
		return Result{}, err
	}

	return Result{Approved: member, Processed: true}, nil
}

var operators = map[string]func(v, want string) bool{ //nolint:gochecknoglobals
	"eq":         func(v, want string) bool { return v == want },
	"contains":   strings.Contains,
	"startswith": strings.HasPrefix,
	"endswith":   strings.HasSuffix,
	"islower":    func(v, _ string) bool { return cased(v, unicode.IsLower, unicode.IsUpper) },
	"isupper":    func(v, _ string) bool { return cased(v, unicode.IsUpper, unicode.IsLower) },
	"isdigit":    func(v, _ string) bool { return every(v, unicode.IsDigit) },
	"isalpha":    func(v, _ string) bool { return every(v, unicode.IsLetter) },
	"isalnum": func(v, _ string) bool {
		return every(v, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })
	},
}

// every reports whether v is non-empty and every rune satisfies fn.
func every(v string, fn func(rune) bool) bool {
	if v == "" {
		return false
	}

	for _, r := range v {
		if !fn(r) {
			return false
		}
	}

	return true
}

// cased reports whether v has at least one rune of case want and none of case other.
func cased(v string, want, other func(rune) bool) bool {
	seen := false

	for _, r := range v {
		if other(r) {
			return false
		}

		if want(r) {
			seen = true
		}
	}

	return seen
}
