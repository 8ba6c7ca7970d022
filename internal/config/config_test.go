package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "glcore", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.Reconciliation.DateToleranceDays)
	assert.Equal(t, 3, cfg.Reconciliation.MinDistinctActors)
	assert.Equal(t, int64(200), cfg.Depreciation.DecliningBalanceRatePct)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RECON_DATE_TOLERANCE_DAYS", "7")
	t.Setenv("RECON_AMOUNT_TOLERANCE_MINOR", "250")
	t.Setenv("DEPR_DECLINING_BALANCE_RATE_PCT", "150")
	t.Setenv("SCHEDULER_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, 7, cfg.Reconciliation.DateToleranceDays)
	assert.Equal(t, int64(250), cfg.Reconciliation.AmountToleranceMinor)
	assert.Equal(t, int64(150), cfg.Depreciation.DecliningBalanceRatePct)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestMACRSTablesParsing(t *testing.T) {
	t.Setenv("DEPR_MACRS_TABLES", "5:20,32,19.2,11.52,11.52,5.76; 3:33.33,44.45,14.81,7.41")

	cfg := Load()

	assert.Equal(t, []string{"20", "32", "19.2", "11.52", "11.52", "5.76"}, cfg.Depreciation.MACRSTables[5])
	assert.Equal(t, []string{"33.33", "44.45", "14.81", "7.41"}, cfg.Depreciation.MACRSTables[3])
}

func TestMACRSTablesMalformedEntriesSkipped(t *testing.T) {
	t.Setenv("DEPR_MACRS_TABLES", "bogus;0:10;5:20,80")

	cfg := Load()

	assert.Equal(t, map[int][]string{5: {"20", "80"}}, cfg.Depreciation.MACRSTables)
}

func TestGetenvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("RECON_DATE_TOLERANCE_DAYS", "not-a-number")
	cfg := Load()
	assert.Equal(t, 3, cfg.Reconciliation.DateToleranceDays)
}
