package binance

import (
	"testing"
	"time"

	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1700000000000)

func TestDecodeTrade(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}
	evs, err := d.decode([]byte(`{"e":"trade","E":1672515782136,"s":"BTCUSDT","t":12345,"p":"16500.10","q":"0.002","T":1672515782134,"m":true,"M":false}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	tr, ok := evs[0].Trade()
	require.True(t, ok)
	assert.Equal(t, "12345", tr.ID)
	assert.Equal(t, "16500.1", tr.Price.String())
	assert.Equal(t, "0.002", tr.Volume.String())
	assert.Equal(t, model.SideSell, tr.Side)
	assert.Equal(t, int64(1672515782134), evs[0].TimestampMs())
	assert.Equal(t, "binance", evs[0].Venue())
}

func TestDecodeTicker(t *testing.T) {
	d := decoder{pair: "ETHUSDT"}
	evs, err := d.decode([]byte(`{"e":"24hrTicker","E":1672515782136,"s":"ETHUSDT","p":"1.0","P":"0.08","c":"1200.5","Q":"0.5","b":"1200.4","B":"3","a":"1200.6","A":"2","v":"10500.25","q":"12600000.1","C":1672515782136}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	tk, ok := evs[0].Ticker()
	require.True(t, ok)
	assert.Equal(t, "1200.4", tk.Bid.String())
	assert.Equal(t, "1200.6", tk.Ask.String())
	assert.Equal(t, "1200.5", tk.Last.String())
	assert.Equal(t, "10500.25", tk.Volume.String())
}

func TestDecodeOther(t *testing.T) {
	d := decoder{pair: "BTCUSDT"}

	evs, err := d.decode([]byte(`{"result":null,"id":1}`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = d.decode([]byte(`{"e":"trade","p":"abc","q":"1"}`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)

	_, err = d.decode([]byte(`{"error":{"code":2,"msg":"Invalid request"}}`), now)
	var ve *exchange.VenueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Invalid request", ve.Msg)
}
