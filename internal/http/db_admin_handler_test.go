package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func runDBAdminRequest(t *testing.T, table string, handle gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "table", Value: table}}
	handle(c)
	return w
}

func TestDBAdmin_RejectsTablesOutsideAllowList(t *testing.T) {
	// The allow-list short-circuits before any query runs, so no pool is
	// needed to exercise the rejection.
	h := NewDBAdminHandler(nil, "concierge")

	for _, table := range []string{"pg_stat_activity", "schema_migrations", "users"} {
		w := runDBAdminRequest(t, table, h.GetTableSchema)
		assert.Equal(t, http.StatusNotFound, w.Code, "schema for %s", table)

		w = runDBAdminRequest(t, table, h.QueryRows)
		assert.Equal(t, http.StatusNotFound, w.Code, "rows for %s", table)
	}
}

func TestDBAdmin_AllowListCoversConciergeTables(t *testing.T) {
	for _, table := range []string{
		"subscriptions", "instances", "billing_records", "leads",
		"affiliates", "referrals", "commissions", "provision_logs",
	} {
		assert.True(t, browsableTables[table], table)
	}
	assert.Len(t, browsableTables, 8)
}

func TestDBAdmin_MasksCredentialColumns(t *testing.T) {
	for _, col := range []string{"gateway_token", "anthropic_api_key", "telegram_bot_token", "env_config"} {
		assert.True(t, isSensitiveColumn(col), col)
	}
	for _, col := range []string{"email", "status", "tier", "do_app_id"} {
		assert.False(t, isSensitiveColumn(col), col)
	}
}
