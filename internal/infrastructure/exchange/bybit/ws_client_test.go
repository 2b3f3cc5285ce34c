package bybit

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

func TestTopic(t *testing.T) {
	assert.Equal(t, "publicTrade.BTCUSDT", topic("btcusdt", port.ChannelTrades))
	assert.Equal(t, "tickers.BTCUSDT", topic("BTCUSDT", port.ChannelTicker))
}

func TestDecodeTrades(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}
	evs, err := d.decode([]byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1672304486868,"data":[
		{"T":1672304486865,"s":"BTCUSDT","S":"Buy","v":"0.001","p":"16578.50","L":"PlusTick","i":"20f43950-d8dd-5b31-9112-a178eb6023af","BT":false},
		{"T":1672304486866,"s":"BTCUSDT","S":"Sell","v":"0.2","p":"16578.00","i":"20f43950-d8dd-5b31-9112-a178eb6023b0","BT":false}
	]}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	tr, ok := evs[0].Trade()
	require.True(t, ok)
	assert.Equal(t, "20f43950-d8dd-5b31-9112-a178eb6023af", tr.ID)
	assert.Equal(t, "16578.5", tr.Price.String())
	assert.Equal(t, model.SideBuy, tr.Side)
	assert.Equal(t, int64(1672304486865), evs[0].TimestampMs())

	tr, _ = evs[1].Trade()
	assert.Equal(t, model.SideSell, tr.Side)
}

func TestDecodeTickerObject(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}
	evs, err := d.decode([]byte(`{"topic":"tickers.BTCUSDT","ts":1673853746003,"type":"snapshot","cs":2588407389,"data":{"symbol":"BTCUSDT","lastPrice":"21109.77","highPrice24h":"21426.99","volume24h":"6780.866843","bid1Price":"21109.7","ask1Price":"21109.8"}}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	tk, ok := evs[0].Ticker()
	require.True(t, ok)
	assert.Equal(t, "21109.77", tk.Last.String())
	assert.Equal(t, "21109.7", tk.Bid.String())
	assert.Equal(t, "21109.8", tk.Ask.String())
	assert.Equal(t, int64(1673853746003), evs[0].TimestampMs())
}

func TestDecodeSpotTickerWithoutBook(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}
	evs, err := d.decode([]byte(`{"topic":"tickers.BTCUSDT","ts":1,"data":{"symbol":"BTCUSDT","lastPrice":"1","volume24h":"2"}}`), now)
	require.NoError(t, err)
	tk, _ := evs[0].Ticker()
	assert.True(t, tk.Bid.IsZero())
	assert.True(t, tk.Ask.IsZero())
}

func TestDecodeAcks(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}

	evs, err := d.decode([]byte(`{"success":true,"ret_msg":"pong","conn_id":"x","op":"ping"}`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = d.decode([]byte(`{"success":false,"ret_msg":"error:handler not found,topic:publicTrade.NOPE","op":"subscribe"}`), now)
	var ve *exchange.VenueError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "handler not found")

	_, err = d.decode([]byte(`{"topic":"publicTrade.BTCUSDT","data":"oops"}`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)
}
