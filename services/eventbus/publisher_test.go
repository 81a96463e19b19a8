package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"mavuno/core/events"
	"mavuno/crypto"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	fail     bool
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func addr(label string) crypto.Address {
	return crypto.ModuleAddress(crypto.Address{}, "eventbus-test/"+label)
}

func TestPublisherKeysByPool(t *testing.T) {
	writer := &fakeWriter{}
	pub := newPublisher(writer, "mavuno.events", 8, nil)
	pool, supplier := addr("pool"), addr("supplier")

	pub.Emit(events.LendingSupplied{Currency: "ngn", Pool: pool, Supplier: supplier, Amount: big.NewInt(500), Shares: big.NewInt(500)})
	pub.Emit(events.FarmerRegistered{Farmer: addr("farmer"), Manager: addr("manager"), Name: "Amina"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Run(ctx))
	require.True(t, writer.closed)

	require.Len(t, writer.messages, 2)
	first := writer.messages[0]
	require.Equal(t, pool.String(), string(first.Key))
	var env Envelope
	require.NoError(t, json.Unmarshal(first.Value, &env))
	require.Equal(t, events.TypeLendingSupplied, env.Type)
	require.Equal(t, "NGN", env.Attributes["currency"])
	require.Equal(t, "500", env.Attributes["amount"])
	require.Equal(t, addr("manager").String(), string(writer.messages[1].Key))

	// Emitting after shutdown is a no-op.
	pub.Emit(events.FarmerVerified{Farmer: addr("farmer")})
	require.Len(t, pub.queue, 0)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	pub := newPublisher(&fakeWriter{}, "mavuno.events", 1, nil)
	pub.Emit(events.FarmerVerified{Farmer: addr("a")})
	pub.Emit(events.FarmerVerified{Farmer: addr("b")})
	require.Len(t, pub.queue, 1)
}

func TestPublisherSurvivesWriteFailure(t *testing.T) {
	writer := &fakeWriter{fail: true}
	pub := newPublisher(writer, "mavuno.events", 4, nil)
	pub.Emit(events.FarmerVerified{Farmer: addr("a")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Run(ctx))
	require.Empty(t, writer.messages)
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "events"}, nil)
	require.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)
	pub, err := NewPublisher(Config{Brokers: []string{" localhost:9092 "}, Topic: "events"}, nil)
	require.NoError(t, err)
	require.Equal(t, "events", pub.topic)
}

func TestKeyFallsBack(t *testing.T) {
	require.Equal(t, "p", Key(map[string]string{"pool": "p", "farmer": "f"}))
	require.Equal(t, "f", Key(map[string]string{"farmer": "f"}))
	require.Equal(t, "", Key(nil))
}
