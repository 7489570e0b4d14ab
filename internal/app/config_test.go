package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

func TestApplyPlatformDefaults(t *testing.T) {
	for _, tt := range []struct {
		name   string
		env    map[string]string
		cfg    Config
		expect Config
	}{
		{
			name:   "DatabaseURL",
			env:    map[string]string{"DATABASE_URL": "postgres://platform"},
			cfg:    Config{Addr: "0.0.0.0:8080"},
			expect: Config{Addr: "0.0.0.0:8080", DatabaseURL: "postgres://platform"},
		},
		{
			name:   "ExplicitDatabaseURLWins",
			env:    map[string]string{"DATABASE_URL": "postgres://platform"},
			cfg:    Config{Addr: "0.0.0.0:8080", DatabaseURL: "postgres://explicit"},
			expect: Config{Addr: "0.0.0.0:8080", DatabaseURL: "postgres://explicit"},
		},
		{
			name:   "Port",
			env:    map[string]string{"PORT": "3000"},
			cfg:    Config{Addr: "0.0.0.0:8080"},
			expect: Config{Addr: "0.0.0.0:3000"},
		},
		{
			name:   "CustomAddrKept",
			env:    map[string]string{"PORT": "3000"},
			cfg:    Config{Addr: "127.0.0.1:9000"},
			expect: Config{Addr: "127.0.0.1:9000"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("PORT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := tt.cfg
			cfg.applyPlatformDefaults()
			assert.Equal(t, tt.expect, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "Postgres", cfg: Config{Storage: StoragePostgres, DatabaseURL: "postgres://x"}},
		{name: "PostgresWithoutURL", cfg: Config{Storage: StoragePostgres}, wantErr: true},
		{name: "Memory", cfg: Config{Storage: StorageMemory}},
		{name: "UnknownStorage", cfg: Config{Storage: "sqlite"}, wantErr: true},
		{
			name:    "BadLinePolicy",
			cfg:     Config{Storage: StorageMemory, Ledger: LedgerConfig{LinePolicy: "lenient"}},
			wantErr: true,
		},
		{
			name:    "BadStockPolicy",
			cfg:     Config{Storage: StorageMemory, Ledger: LedgerConfig{StockPolicy: "never"}},
			wantErr: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLedgerConfig_Policy(t *testing.T) {
	p, err := LedgerConfig{}.Policy()
	require.NoError(t, err)
	assert.Equal(t, sale.DefaultPolicy(), p)

	p, err = LedgerConfig{LinePolicy: "strict", StockPolicy: "reject", RestoreStock: true}.Policy()
	require.NoError(t, err)
	assert.Equal(t, sale.Policy{Lines: sale.LineStrict, Stock: product.StockReject, RestoreStock: true}, p)
}
