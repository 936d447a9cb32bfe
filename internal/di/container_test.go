package di

import (
	"context"
	"testing"

	"github.com/dvloznov/reconciler/internal/config"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/dvloznov/reconciler/internal/notionsync"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		HTTPPort:     8080,
		StoreDriver:  config.DriverMemory,
		LedgerDriver: config.DriverMemory,
		EventsDriver: config.DriverNone,
		BankAccounts: []string{"acc-1:Main account", "acc-2"},
		Match:        reconcile.DefaultMatchConfig(),
		QueueSize:    10,
		WorkerCount:  1,
	}
}

func TestBuild_Memory(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Storage)
	assert.IsType(t, events.Nop{}, c.Publisher)

	acc, err := c.Accounts.ResolveBankAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Main account", acc.Label)

	imp, err := c.Service.CreateImport(ctx, reconcile.ImportRequest{
		BankAccountID: "acc-2",
		Filename:      "march.csv",
		Content:       []byte("01/03/2024;PAYMENT ACME CORP;-150.00\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, imp.Counters.Pending)
}

func TestBuild_NotionReporterJoinsPublisher(t *testing.T) {
	cfg := memoryConfig()
	cfg.NotionToken = "secret"
	cfg.NotionDBID = "db"

	c, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &notionsync.Reporter{}, c.Publisher)
}

func TestBuild_KafkaWithNotion(t *testing.T) {
	cfg := memoryConfig()
	cfg.EventsDriver = config.DriverKafka
	cfg.KafkaBrokers = []string{"localhost:9092"}
	cfg.KafkaTopic = "reconciliation-events"
	cfg.NotionToken = "secret"
	cfg.NotionDBID = "db"

	c, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	multi, ok := c.Publisher.(events.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestParseBankAccounts(t *testing.T) {
	accounts, err := ParseBankAccounts([]string{"acc-1", " acc-2 : Savings "})
	require.NoError(t, err)
	assert.Equal(t, []domain.BankAccount{
		{ID: "acc-1", Label: "acc-1"},
		{ID: "acc-2", Label: "Savings"},
	}, accounts)

	_, err = ParseBankAccounts([]string{":no id"})
	assert.Error(t, err)
}

func TestCloseRunsInReverse(t *testing.T) {
	var order []int
	c := &Container{}
	c.onClose(func() error { order = append(order, 1); return nil })
	c.onClose(func() error { order = append(order, 2); return assert.AnError })

	assert.ErrorIs(t, c.Close(), assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, c.Close())
}
