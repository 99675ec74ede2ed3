package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitu-idm/dirsync/internal/config"
)

func TestRecipients(t *testing.T) {
	cfg := config.Notification{
		Operators:        []string{"ops@example.org"},
		LimitedOperators: []string{"idm@example.org"},
	}

	testCases := []struct {
		name string
		cfg  config.Notification
		msg  Message
		want []string
	}{
		{name: "all", cfg: cfg, msg: Message{Scope: ScopeAll}, want: []string{"ops@example.org"}},
		{name: "empty scope means all", cfg: cfg, msg: Message{}, want: []string{"ops@example.org"}},
		{name: "limited", cfg: cfg, msg: Message{Scope: ScopeLimited}, want: []string{"idm@example.org"}},
		{
			name: "limited falls back to operators",
			cfg:  config.Notification{Operators: []string{"ops@example.org"}},
			msg:  Message{Scope: ScopeLimited},
			want: []string{"ops@example.org"},
		},
		{
			name: "managers",
			cfg:  cfg,
			msg:  Message{Scope: ScopeManagers, Recipients: []string{"amiller"}},
			want: []string{"amiller"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Recipients(tc.cfg, tc.msg))
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer

	orig := log.Logger
	log.Logger = zerolog.New(&buf)

	t.Cleanup(func() { log.Logger = orig })

	n := NewLog(config.Notification{Operators: []string{"ops@example.org"}, SubjectPrefix: "[dirsync] "})
	require.NoError(t, n.Notify(context.Background(), Message{Subject: "LDAP user created: tina93", Body: "done"}))

	out := buf.String()
	assert.Contains(t, out, `"subject":"[dirsync] LDAP user created: tina93"`)
	assert.Contains(t, out, `"to":["ops@example.org"]`)
	assert.Contains(t, out, `"message":"done"`)
}
