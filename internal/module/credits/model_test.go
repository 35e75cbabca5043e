package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountConsistent(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{"fresh account", Account{}, true},
		{"after grant and spend", Account{TotalCredits: 50, RemainingCredits: 30, UsedCredits: 20}, true},
		{"drained", Account{TotalCredits: 50, RemainingCredits: 0, UsedCredits: 50}, true},
		{"broken arithmetic", Account{TotalCredits: 50, RemainingCredits: 40, UsedCredits: 20}, false},
		{"negative remaining", Account{TotalCredits: 10, RemainingCredits: -5, UsedCredits: 15}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.Consistent())
		})
	}
}

func TestTransactionStatusHelpers(t *testing.T) {
	assert.True(t, (&Transaction{Status: TransactionStatusCompleted}).IsCompleted())
	assert.False(t, (&Transaction{Status: TransactionStatusPending}).IsCompleted())

	assert.True(t, (&Transaction{Status: TransactionStatusFailed}).IsTerminal())
	assert.True(t, (&Transaction{Status: TransactionStatusRefunded}).IsTerminal())
	assert.True(t, (&Transaction{Status: TransactionStatusDisputed}).IsTerminal())
	assert.False(t, (&Transaction{Status: TransactionStatusCompleted}).IsTerminal())
	assert.False(t, (&Transaction{Status: TransactionStatusPartiallyRefunded}).IsTerminal())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "credit_accounts", Account{}.TableName())
	assert.Equal(t, "payment_transactions", Transaction{}.TableName())
	assert.Equal(t, "usage_entries", UsageEntry{}.TableName())
}
