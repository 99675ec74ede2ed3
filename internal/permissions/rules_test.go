package permissions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/permissions"
)

func logs(entries ...models.ApprovalLog) []models.ApprovalLog { return entries }

func approve(by string) models.ApprovalLog { return models.ApprovalLog{CreatedBy: by, Approved: true} }

func reject(by string) models.ApprovalLog { return models.ApprovalLog{CreatedBy: by} }

func TestManagerApproval(t *testing.T) {
	rule := config.PermissionRule{Rule: permissions.RuleManagerApproval, Managers: []string{"A", "B"}, Count: 2}

	testCases := []struct {
		name string
		logs []models.ApprovalLog
		want permissions.Result
	}{
		{name: "no approvals", want: permissions.Result{}},
		{name: "one approval", logs: logs(approve("A")), want: permissions.Result{}},
		{name: "same manager twice", logs: logs(approve("A"), approve("A")), want: permissions.Result{}},
		{name: "two managers", logs: logs(approve("A"), approve("B")), want: permissions.Result{Approved: true, Processed: true}},
		{name: "reverse order", logs: logs(approve("B"), approve("A")), want: permissions.Result{Approved: true, Processed: true}},
		{name: "outsider approvals ignored", logs: logs(approve("A"), approve("C")), want: permissions.Result{}},
		{name: "rejection", logs: logs(reject("A")), want: permissions.Result{Processed: true}},
		{
			name: "rejection after approvals",
			logs: logs(approve("A"), approve("B"), reject("A")),
			want: permissions.Result{Processed: true},
		},
		{name: "outsider rejection ignored", logs: logs(reject("C"), approve("A"), approve("B")), want: permissions.Result{Approved: true, Processed: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := permissions.Evaluate(context.Background(), permissions.Input{Rule: rule, Logs: tc.logs})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEmailDomain(t *testing.T) {
	testCases := []struct {
		domain string
		email  string
		want   bool
	}{
		{domain: "example.org", email: "amiller@example.org", want: true},
		{domain: "@example.org", email: "AMiller@Example.ORG", want: true},
		{domain: "example.org", email: "amiller@notexample.org"},
		{domain: "example.org", email: "amiller@example.org.evil.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.email, func(t *testing.T) {
			got, err := permissions.Evaluate(context.Background(), permissions.Input{
				Rule: config.PermissionRule{Rule: permissions.RuleEmailDomain, Domain: tc.domain},
				User: &models.User{Email: tc.email},
			})
			require.NoError(t, err)
			assert.True(t, got.Processed)
			assert.Equal(t, tc.want, got.Approved)
		})
	}
}

func TestUnknownRule(t *testing.T) {
	_, err := permissions.Evaluate(context.Background(), permissions.Input{Rule: config.PermissionRule{Rule: "magic"}})
	require.ErrorIs(t, err, permissions.ErrUnknownRule)
}
