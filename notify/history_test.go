package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeCollection struct {
	docs []HistoryRecord
	err  error
}

func (f *fakeCollection) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := doc.(HistoryRecord)
	f.docs = append(f.docs, rec)
	return &mongo.InsertOneResult{InsertedID: rec.ID}, nil
}

func TestHistoryPublisherArchivesDecodedPayload(t *testing.T) {
	coll := &fakeCollection{}
	p := NewHistoryPublisher(coll, nil)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	msg, err := NewMessage(TopicSwapStateChanged, "swap-1", SwapStateChanged{SwapID: "swap-1", From: "DELIVERED", To: "COMPLETED", Version: 7})
	require.NoError(t, err)
	msg.ID = "evt-1"
	require.NoError(t, p.Publish(context.Background(), msg))

	require.Len(t, coll.docs, 1)
	rec := coll.docs[0]
	assert.Equal(t, "evt-1", rec.ID)
	assert.Equal(t, TopicSwapStateChanged, rec.Topic)
	assert.Equal(t, "swap-1", rec.Key)
	assert.Equal(t, "COMPLETED", rec.Payload["to"])
	assert.Equal(t, at, rec.RecordedAt)
}

func TestHistoryPublisherRejectsMalformedPayload(t *testing.T) {
	coll := &fakeCollection{}
	err := NewHistoryPublisher(coll, nil).Publish(context.Background(), Message{ID: "x", Topic: "t", Payload: []byte("{not json")})
	assert.Error(t, err)
	assert.Empty(t, coll.docs)
}

func TestHistoryPublisherTreatsDuplicateAsArchived(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	err := NewHistoryPublisher(&fakeCollection{err: dup}, nil).Publish(context.Background(), Message{ID: "x", Topic: "t", Payload: []byte(`{}`)})
	assert.NoError(t, err)

	err = NewHistoryPublisher(&fakeCollection{err: errors.New("no primary")}, nil).Publish(context.Background(), Message{ID: "x", Topic: "t", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestFanoutStopsAtFirstFailure(t *testing.T) {
	first := &fakePublisher{fail: map[string]bool{"2": true}}
	second := &fakePublisher{fail: map[string]bool{}}
	f := Fanout{first, second}

	require.NoError(t, f.Publish(context.Background(), Message{ID: "1"}))
	assert.Error(t, f.Publish(context.Background(), Message{ID: "2"}))
	assert.Equal(t, []string{"1"}, second.published)
}
