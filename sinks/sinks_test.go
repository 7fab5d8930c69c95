package sinks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	args := m.Called(r.Topic, string(r.Key), r.Value)
	promise(r, args.Error(0))
}

func (m *mockProducer) Flush(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockProducer) Close() {
	m.Called()
}

func TestKafkaPublisher_Publish(t *testing.T) {
	p := &mockProducer{}
	p.On("Produce", "out", "1", []byte("1,pen")).Return(nil).Once()
	p.On("Produce", "out", "2", []byte(nil)).Return(nil).Once()
	p.On("Produce", "out", "3", []byte("x")).Return(errors.New("not leader")).Once()
	p.On("Flush").Return(nil).Once()
	p.On("Close").Once()

	k := &KafkaPublisher{client: p, logger: zerolog.Nop()}
	ctx := context.Background()
	require.NoError(t, k.Publish(ctx, "out", "1", []byte("1,pen")))
	require.NoError(t, k.Publish(ctx, "out", "2", nil))
	assert.EqualError(t, k.Publish(ctx, "out", "3", []byte("x")), "not leader")
	require.NoError(t, k.Close(ctx))
	p.AssertExpectations(t)
}

// hangingProducer never acknowledges a record.
type hangingProducer struct{}

func (hangingProducer) Produce(context.Context, *kgo.Record, func(*kgo.Record, error)) {}
func (hangingProducer) Flush(context.Context) error                                    { return nil }
func (hangingProducer) Close()                                                         {}

func TestKafkaPublisher_PublishCancelled(t *testing.T) {
	k := &KafkaPublisher{client: hangingProducer{}, logger: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, k.Publish(ctx, "out", "1", []byte("v")), context.Canceled)
}

func TestNewKafkaPublisher_NeedsBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{})
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestFilePublisher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f, err := NewFilePublisher(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Publish(ctx, "big", "1", []byte(`{"id":1}`)))
	require.NoError(t, f.Publish(ctx, "big", "2", nil))
	require.NoError(t, f.Publish(ctx, "small", "3", []byte("3")))
	assert.Error(t, f.Publish(ctx, "../escape", "4", []byte("4")))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(dir, "big.log"))
	require.NoError(t, err)
	assert.Equal(t, "1\t{\"id\":1}\n2\t\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "small.log"))
	require.NoError(t, err)
	assert.Equal(t, "3\t3\n", string(data))

	// reopening appends
	f, err = NewFilePublisher(dir)
	require.NoError(t, err)
	require.NoError(t, f.Publish(ctx, "small", "4", []byte("4")))
	require.NoError(t, f.Close())
	data, err = os.ReadFile(filepath.Join(dir, "small.log"))
	require.NoError(t, err)
	assert.Equal(t, "3\t3\n4\t4\n", string(data))
}
