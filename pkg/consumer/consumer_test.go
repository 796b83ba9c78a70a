package consumer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Job   string `json:"job"`
	Probe string `json:"probe"`
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { r.closed = true; return nil }

func TestRead(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"job":"install","probe":"ids1"}`)},
		{Offset: 2, Value: []byte(`{not json`)},
	}}
	c := newConsumer[payload](r)

	got, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload{Job: "install", Probe: "ids1"}, got)

	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []int64{1, 2}, r.committed)

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestRunSkipsMalformed(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"job":"update","probe":"a"}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"job":"deployRules","probe":"b"}`)},
	}}
	var handled []payload
	var skipped int
	err := newConsumer[payload](r).Run(context.Background(),
		func(_ context.Context, p payload) { handled = append(handled, p) },
		func(error) { skipped++ })

	assert.True(t, errors.Is(err, io.EOF))
	assert.Len(t, handled, 2)
	assert.Equal(t, 1, skipped)
}
