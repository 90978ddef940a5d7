package checkout

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestConfigValidate(t *testing.T) {
	base := func() PaywallConfig {
		return PaywallConfig{
			Locks: map[string]LockConfig{
				testLockAddr.Hex(): {Network: 10},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*PaywallConfig)
		wantErr bool
	}{
		{"valid", func(c *PaywallConfig) {}, false},
		{"no locks", func(c *PaywallConfig) { c.Locks = nil }, true},
		{"empty locks", func(c *PaywallConfig) { c.Locks = map[string]LockConfig{} }, true},
		{"lock key not an address", func(c *PaywallConfig) {
			c.Locks["not-an-address"] = LockConfig{Network: 10}
		}, true},
		{"missing network", func(c *PaywallConfig) {
			c.Locks[testLockAddr.Hex()] = LockConfig{}
		}, true},
		{"bad referrer", func(c *PaywallConfig) { c.Referrer = "0xzz" }, true},
		{"good referrer", func(c *PaywallConfig) { c.Referrer = testAccount.Hex() }, false},
		{"bad data builder", func(c *PaywallConfig) { c.DataBuilder = "not a url" }, true},
		{"good data builder", func(c *PaywallConfig) { c.DataBuilder = "https://example.com/data" }, false},
		{"min over max", func(c *PaywallConfig) {
			c.MinRecipients = 5
			c.MaxRecipients = 2
		}, true},
		{"recurring forever", func(c *PaywallConfig) { c.RecurringPayments = "forever" }, false},
		{"recurring count", func(c *PaywallConfig) { c.RecurringPayments = "12" }, false},
		{"recurring garbage", func(c *PaywallConfig) { c.RecurringPayments = "sometimes" }, true},
		{"recurring negative", func(c *PaywallConfig) { c.RecurringPayments = "-1" }, true},
		{"per-lock recurring garbage", func(c *PaywallConfig) {
			c.Locks[testLockAddr.Hex()] = LockConfig{Network: 10, RecurringPayments: "maybe"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("err = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestLockConfigForCaseInsensitive(t *testing.T) {
	config := PaywallConfig{
		Locks: map[string]LockConfig{
			"0x1111111111111111111111111111111111111111": {Network: 10, Name: "lower"},
		},
	}

	if _, ok := config.LockConfigFor(testLockAddr); !ok {
		t.Error("checksummed address did not match lowercase key")
	}
	if _, ok := config.LockConfigFor(testAccount); ok {
		t.Error("unrelated address matched")
	}
}

func TestSkipFlagsResolution(t *testing.T) {
	config := PaywallConfig{
		SkipQuantity: true,
		Locks: map[string]LockConfig{
			testLockAddr.Hex(): {Network: 10, SkipQuantity: boolPtr(false), SkipRecipient: boolPtr(true)},
			testAccount.Hex():  {Network: 10},
		},
	}

	if config.SkipQuantityFor(testLockAddr) {
		t.Error("per-lock false did not override global true")
	}
	if !config.SkipRecipientFor(testLockAddr) {
		t.Error("per-lock true not honored")
	}
	if !config.SkipQuantityFor(testAccount) {
		t.Error("global default not applied without an override")
	}
	if config.SkipRecipientFor(testAccount) {
		t.Error("global default leaked a skip")
	}
}

func TestReferrerForPrecedence(t *testing.T) {
	perLock := common.HexToAddress("0x2222222222222222222222222222222222222222")
	global := common.HexToAddress("0x3333333333333333333333333333333333333333")

	tests := []struct {
		name   string
		config PaywallConfig
		want   common.Address
	}{
		{
			name: "per-lock wins",
			config: PaywallConfig{
				Referrer: global.Hex(),
				Locks: map[string]LockConfig{
					testLockAddr.Hex(): {Network: 10, Referrer: perLock.Hex()},
				},
			},
			want: perLock,
		},
		{
			name: "global fallback",
			config: PaywallConfig{
				Referrer: global.Hex(),
				Locks:    map[string]LockConfig{testLockAddr.Hex(): {Network: 10}},
			},
			want: global,
		},
		{
			name: "recipient default",
			config: PaywallConfig{
				Locks: map[string]LockConfig{testLockAddr.Hex(): {Network: 10}},
			},
			want: testBuyer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.ReferrerFor(testLockAddr, testBuyer); got != tt.want {
				t.Errorf("ReferrerFor = %s, want %s", got.Hex(), tt.want.Hex())
			}
		})
	}
}

func TestRecurringForResolution(t *testing.T) {
	config := PaywallConfig{
		RecurringPayments: "12",
		Locks: map[string]LockConfig{
			testLockAddr.Hex(): {Network: 10, RecurringPayments: "forever"},
			testAccount.Hex():  {Network: 10},
		},
	}

	if count, forever := config.RecurringFor(testLockAddr); !forever || count != 0 {
		t.Errorf("per-lock policy = %d/%v, want forever", count, forever)
	}
	if count, forever := config.RecurringFor(testAccount); forever || count != 12 {
		t.Errorf("global policy = %d/%v, want 12", count, forever)
	}
}

func TestQuantityBounds(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		wantMin  int
		wantMax  int
	}{
		{"defaults", 0, 0, 1, 100},
		{"custom min", 3, 0, 3, 100},
		{"custom max", 0, 10, 1, 10},
		{"both", 2, 5, 2, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := PaywallConfig{MinRecipients: tt.min, MaxRecipients: tt.max}
			min, max := config.QuantityBounds()
			if min != tt.wantMin || max != tt.wantMax {
				t.Errorf("bounds = [%d,%d], want [%d,%d]", min, max, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestDataBuilderForOverride(t *testing.T) {
	config := PaywallConfig{
		DataBuilder: "https://global.example.com/data",
		Locks: map[string]LockConfig{
			testLockAddr.Hex(): {Network: 10, DataBuilder: "https://lock.example.com/data"},
			testAccount.Hex():  {Network: 10},
		},
	}

	if got := config.DataBuilderFor(testLockAddr); got != "https://lock.example.com/data" {
		t.Errorf("per-lock builder = %q", got)
	}
	if got := config.DataBuilderFor(testAccount); got != "https://global.example.com/data" {
		t.Errorf("global builder = %q", got)
	}
}
