package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Envelope) error { return f.err }

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func created() Envelope {
	return NewEnvelope(KindOrderCreated, "HYB-USDC", time.Unix(1700000000, 0).UTC(), OrderCreated{
		OrderID:         7,
		Owner:           common.HexToAddress("0x01"),
		Beneficiary:     common.HexToAddress("0x02"),
		Side:            core.Buy,
		Price:           uint256.NewInt(2000),
		AmountOffered:   uint256.NewInt(3000),
		AmountRemaining: uint256.NewInt(1000),
	})
}

func TestKindChannel(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindOrderCreated, "orders"},
		{KindMatched, "trades"},
		{Kind("other"), "other"},
	}
	for _, tt := range tests {
		if got := tt.kind.Channel(); got != tt.want {
			t.Errorf("%s.Channel() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	mem := &MemorySink{}
	boom := errors.New("broker down")
	f := Fanout{failingSink{boom}, mem, Discard{}}

	err := f.Publish(context.Background(), created())
	require.ErrorIs(t, err, boom)
	require.Len(t, mem.Events(), 1, "a failing sink must not starve the others")
}

func TestKafkaSinkEncodesEnvelope(t *testing.T) {
	w := &captureWriter{}
	sink := &KafkaSink{writer: w}
	ev := created()

	require.NoError(t, sink.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "HYB-USDC", string(msg.Key))
	require.Equal(t, ev.Time, msg.Time)

	var decoded struct {
		ID      string `json:"id"`
		Kind    Kind   `json:"kind"`
		Payload struct {
			OrderID         uint64 `json:"orderId"`
			Side            string `json:"side"`
			AmountRemaining string `json:"amountRemaining"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, ev.ID.String(), decoded.ID)
	require.Equal(t, KindOrderCreated, decoded.Kind)
	require.Equal(t, uint64(7), decoded.Payload.OrderID)
	require.Equal(t, "buy", decoded.Payload.Side)
	require.Equal(t, "1000", decoded.Payload.AmountRemaining)

	require.NoError(t, sink.Close())
	require.True(t, w.closed)
}
