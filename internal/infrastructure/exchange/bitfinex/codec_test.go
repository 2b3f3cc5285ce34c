package bitfinex

import (
	"testing"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1700000000000)

func subscribed(t *testing.T, d *decoder) {
	t.Helper()
	evs, err := d.decode([]byte(`{"event":"subscribed","channel":"trades","chanId":17,"symbol":"tBTCUSD","pair":"BTCUSD"}`), now)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestDecodeTrades(t *testing.T) {
	d := newDecoder("BTCUSD", port.ChannelTrades)

	// data before the subscription is acknowledged belongs to nobody
	evs, err := d.decode([]byte(`[17,"hb"]`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	subscribed(t, d)

	evs, err = d.decode([]byte(`[17,[[401597393,1574694475039,0.005,7245.3]]]`), now)
	require.NoError(t, err)
	assert.Empty(t, evs, "snapshot is ignored")

	evs, err = d.decode([]byte(`[17,"te",[401597395,1574694478808,-0.005,7245.3]]`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	tr, ok := evs[0].Trade()
	require.True(t, ok)
	assert.Equal(t, "401597395", tr.ID)
	assert.Equal(t, "7245.3", tr.Price.String())
	assert.Equal(t, "0.005", tr.Volume.String())
	assert.Equal(t, model.SideSell, tr.Side)
	assert.Equal(t, int64(1574694478808), evs[0].TimestampMs())
	assert.Equal(t, "bitfinex", evs[0].Venue())
	assert.Equal(t, "BTCUSD", evs[0].Pair())

	evs, err = d.decode([]byte(`[17,"tu",[401597395,1574694478808,-0.005,7245.3]]`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = d.decode([]byte(`[99,"te",[1,1,1,1]]`), now)
	require.NoError(t, err)
	assert.Empty(t, evs, "other channel")
}

func TestDecodeHeartbeat(t *testing.T) {
	d := newDecoder("BTCUSD", port.ChannelTrades)
	subscribed(t, d)

	evs, err := d.decode([]byte(`[17,"hb"]`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.KindHeartbeat, evs[0].Kind())
	assert.Equal(t, now.UnixMilli(), evs[0].TimestampMs())
}

func TestDecodeTicker(t *testing.T) {
	d := newDecoder("BTCUSD", port.ChannelTicker)
	subscribed(t, d)

	evs, err := d.decode([]byte(`[17,[7616.5,31.89,7617.5,43.35,-550.8,-0.0674,7617.1,8314.71,8257.8,7500]]`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	tk, ok := evs[0].Ticker()
	require.True(t, ok)
	assert.Equal(t, "7616.5", tk.Bid.String())
	assert.Equal(t, "7617.5", tk.Ask.String())
	assert.Equal(t, "7617.1", tk.Last.String())
	assert.Equal(t, "8314.71", tk.Volume.String())
}

func TestDecodeErrors(t *testing.T) {
	d := newDecoder("BTCUSD", port.ChannelTrades)

	_, err := d.decode([]byte(`{"event":"error","msg":"symbol: invalid","code":10300}`), now)
	var ve *exchange.VenueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(10300), ve.Code)

	_, err = d.decode([]byte(`not json`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)

	subscribed(t, d)
	_, err = d.decode([]byte(`[17,"te",[1,2,"x",4]]`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)

	evs, err := d.decode([]byte(`{"event":"info","version":2}`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}
