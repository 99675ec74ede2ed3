package fiber_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "github.com/bitu-idm/dirsync/internal/logger/adapter/fiber"

	"github.com/bitu-idm/dirsync/internal/logger"
)

type accessLine struct {
	IP     string `json:"IP"`
	Status int    `json:"status"`
	URI    string `json:"URI"`
	Method string `json:"method"`
	Host   string `json:"host"`
}

func TestNew(t *testing.T) {
	testCases := []struct {
		name       string
		targetPath string
		config     adapter.Config
		want       *accessLine
	}{
		{
			name:       "no writers no output",
			targetPath: "/",
		},
		{
			name:       "get / logged",
			targetPath: "/",
			want:       &accessLine{Status: 200, URI: "/", Method: fiber.MethodGet, Host: "example.com"},
		},
		{
			name:       "query string kept",
			targetPath: "/?test=123",
			want:       &accessLine{Status: 200, URI: "/?test=123", Method: fiber.MethodGet, Host: "example.com"},
		},
		{
			name:       "unknown route",
			targetPath: "/missing",
			want:       &accessLine{Status: 404, URI: "/missing", Method: fiber.MethodGet, Host: "example.com"},
		},
		{
			name:       "checkalive skipped",
			targetPath: "/checkalive",
			config: adapter.Config{
				Config:        logger.Log{DisableCheckAlive: true},
				CheckAliveURI: "/checkalive",
			},
		},
		{
			name:       "checkalive logged when enabled",
			targetPath: "/checkalive",
			config:     adapter.Config{CheckAliveURI: "/checkalive"},
			want:       &accessLine{Status: 200, URI: "/checkalive", Method: fiber.MethodGet, Host: "example.com"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer

			cfg := tc.config
			if tc.want != nil || tc.config.CheckAliveURI != "" {
				cfg.Output = &buf
			}

			app := fiber.New()
			app.Use(adapter.New(cfg))
			app.Get("/", func(ctx *fiber.Ctx) error { return ctx.SendString("hello test") })
			app.Get("/checkalive", func(ctx *fiber.Ctx) error { return ctx.SendString("OK") })

			_, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.targetPath, nil), -1)
			require.NoError(t, err)

			if tc.want == nil {
				assert.Empty(t, buf.String())
				return
			}

			var got accessLine
			require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
			assert.Equal(t, tc.want.Status, got.Status)
			assert.Equal(t, tc.want.URI, got.URI)
			assert.Equal(t, tc.want.Method, got.Method)
			assert.Equal(t, tc.want.Host, got.Host)
		})
	}
}
