package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType EventType
		wantText string
	}{
		{"status object", `{"type":"status","data":{"status":"running"}}`, EventStatus, "running"},
		{"status upper case type", `{"type":"STATUS","data":{"status":"stopped"}}`, EventStatus, "stopped"},
		{"warning string data", `{"type":"warning","data":"low balance"}`, EventWarning, "low balance"},
		{"strategy message", `{"type":"strategy_msg","data":{"msg":"rebalancing"}}`, EventStrategyMsg, "rebalancing"},
		{"fill without text", `{"type":"entry_fill","data":{"pair":"ETH/USDT","amount":0.5}}`, EventEntryFill, ""},
		{"no data", `{"type":"startup"}`, EventStartup, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantText, ev.Text())
			assert.False(t, ev.ReceivedAt.IsZero())
		})
	}
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"data":{"status":"running"}}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventType_IsTradeLifecycle(t *testing.T) {
	for _, typ := range []EventType{EventEntry, EventEntryFill, EventEntryCancel, EventExit, EventExitFill, EventExitCancel} {
		assert.True(t, typ.IsTradeLifecycle(), string(typ))
	}
	for _, typ := range []EventType{EventStatus, EventWarning, EventStartup, EventStrategyMsg} {
		assert.False(t, typ.IsTradeLifecycle(), string(typ))
	}
}
