package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"finops-api/internal/models"
)

func TestDecimalRoundTripsThroughBSON(t *testing.T) {
	registry := Registry()

	tx := &models.FinancialTransaction{
		TransactionID: "tx_1",
		WalletID:      "wallet_1",
		Type:          models.TransactionTypePayment,
		Amount:        decimal.RequireFromString("1234.56"),
		Currency:      "USD",
		Source:        models.SourceInternal,
		Status:        models.StatusPending,
		Timestamp:     time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}

	data, err := bson.MarshalWithRegistry(registry, tx)
	require.NoError(t, err)

	// The stored field must be a real Decimal128, not an opaque document,
	// or the aggregation pipelines cannot sum or compare amounts.
	var raw bson.M
	require.NoError(t, bson.UnmarshalWithRegistry(registry, data, &raw))
	stored, ok := raw["amount"].(primitive.Decimal128)
	require.True(t, ok, "amount stored as %T, want primitive.Decimal128", raw["amount"])
	assert.Equal(t, "1234.56", stored.String())

	var decoded models.FinancialTransaction
	require.NoError(t, bson.UnmarshalWithRegistry(registry, data, &decoded))
	assert.True(t, decoded.Amount.Equal(tx.Amount), "amount %s round-tripped as %s", tx.Amount, decoded.Amount)
}

func TestDecimalCodecWalletLimits(t *testing.T) {
	registry := Registry()

	wallet := &models.WalletConfiguration{
		WalletID:         "wallet_1",
		MemberID:         "member_1",
		OwnerTier:        models.TierSapphire,
		HRClassification: models.HRClass2,
		Status:           models.WalletStatusActive,
		ComplianceLevel:  models.ComplianceLevelBasic,
		Limits: models.SpendingLimits{
			Daily:       decimal.NewFromInt(10_000),
			Monthly:     decimal.NewFromInt(100_000),
			Transaction: decimal.RequireFromString("5000.50"),
		},
	}

	data, err := bson.MarshalWithRegistry(registry, wallet)
	require.NoError(t, err)

	var decoded models.WalletConfiguration
	require.NoError(t, bson.UnmarshalWithRegistry(registry, data, &decoded))

	assert.True(t, decoded.Limits.Daily.Equal(wallet.Limits.Daily))
	assert.True(t, decoded.Limits.Monthly.Equal(wallet.Limits.Monthly))
	assert.True(t, decoded.Limits.Transaction.Equal(wallet.Limits.Transaction))
}

func TestDecimalCodecDecodesLegacyScalars(t *testing.T) {
	registry := Registry()

	tests := []struct {
		name string
		doc  bson.M
		want decimal.Decimal
	}{
		{"string amount", bson.M{"balance": "42.75"}, decimal.RequireFromString("42.75")},
		{"int64 amount", bson.M{"balance": int64(500)}, decimal.NewFromInt(500)},
		{"int32 amount", bson.M{"balance": int32(7)}, decimal.NewFromInt(7)},
		{"null amount", bson.M{"balance": nil}, decimal.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := bson.MarshalWithRegistry(registry, tt.doc)
			require.NoError(t, err)

			var decoded struct {
				Balance decimal.Decimal `bson:"balance"`
			}
			require.NoError(t, bson.UnmarshalWithRegistry(registry, data, &decoded))
			assert.True(t, decoded.Balance.Equal(tt.want), "got %s, want %s", decoded.Balance, tt.want)
		})
	}
}
