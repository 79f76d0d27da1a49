package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*24*time.Hour, cfg.PaymentWindow)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.True(t, cfg.GatewaySimulated)
	assert.True(t, cfg.GatewayDeclineOver.IsZero())
}

func TestFromEnv_Gateway(t *testing.T) {
	t.Setenv("GATEWAY_DECLINE_OVER", "500.00")
	cfg := FromEnv()
	assert.True(t, cfg.GatewayDeclineOver.Equal(decimal.RequireFromString("500.00")))

	t.Run("live gateway flips the flag", func(t *testing.T) {
		t.Setenv("PAYMENT_GATEWAY", "live")
		assert.False(t, FromEnv().GatewaySimulated)
	})

	t.Run("garbage threshold falls back to zero", func(t *testing.T) {
		t.Setenv("GATEWAY_DECLINE_OVER", "lots")
		assert.True(t, FromEnv().GatewayDeclineOver.IsZero())
	})
}
