package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageEncodesPayload(t *testing.T) {
	msg, err := NewMessage(TopicSwapStateChanged, "swap-1", SwapStateChanged{SwapID: "swap-1", From: "AGREED", To: "CANCELLED", Version: 4})
	require.NoError(t, err)

	var back SwapStateChanged
	require.NoError(t, json.Unmarshal(msg.Payload, &back))
	assert.Equal(t, "CANCELLED", back.To)
	assert.Equal(t, "swap-1", msg.Key)

	_, err = NewMessage("", "k", nil)
	assert.Error(t, err)
}

func TestRelayPublishesAndRecordsOutcome(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "1", Topic: TopicSwapStateChanged},
		{ID: "2", Topic: TopicDisputeOpened},
		{ID: "3", Topic: TopicSettlementCompleted, Attempts: 4},
	}}
	pub := &fakePublisher{fail: map[string]bool{"2": true, "3": true}}
	pool := &fakePool{}

	stats, err := NewRelay(pool, store, pub, nil).WithMaxAttempts(5).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Published: 1, Retrying: 1, Dead: 1}, stats)
	assert.Equal(t, []string{"1"}, store.processed)
	assert.Equal(t, map[string]bool{"2": false, "3": true}, store.failed)
	assert.True(t, pool.tx.committed)
}

func TestRelayRollsBackWhenClaimFails(t *testing.T) {
	store := &fakeStore{claimErr: errors.New("connection reset")}
	pool := &fakePool{}

	_, err := NewRelay(pool, store, &fakePublisher{}, nil).RunOnce(context.Background())
	assert.Error(t, err)
	assert.True(t, pool.tx.rolled)
	assert.False(t, pool.tx.committed)
}

func TestKafkaPublisherSendsKeyedMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev DisputeOpened
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.SwapID != "swap-9" {
			return fmt.Errorf("unexpected swap id %q", ev.SwapID)
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(sp, nil)
	msg, err := NewMessage(TopicDisputeOpened, "swap-9", DisputeOpened{SwapID: "swap-9", Reason: "ITEM_DAMAGED"})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), msg))
	err = pub.Publish(context.Background(), msg)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, pub.Close())
}

func TestKafkaProducerConfig(t *testing.T) {
	cfg := NewKafkaProducerConfig(7)
	assert.True(t, cfg.Producer.Idempotent)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 7, cfg.Producer.Retry.Max)
	assert.NoError(t, cfg.Validate())
}

type fakeStore struct {
	pending   []Message
	claimErr  error
	processed []string
	failed    map[string]bool
}

func (f *fakeStore) ClaimTx(context.Context, pgx.Tx, int) ([]Message, error) {
	return f.pending, f.claimErr
}

func (f *fakeStore) MarkProcessedTx(_ context.Context, _ pgx.Tx, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailedTx(_ context.Context, _ pgx.Tx, id string, dead bool) error {
	if f.failed == nil {
		f.failed = map[string]bool{}
	}
	f.failed[id] = dead
	return nil
}

type fakePublisher struct {
	fail      map[string]bool
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, m Message) error {
	if f.fail[m.ID] {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, m.ID)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
