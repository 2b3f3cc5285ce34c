package luno

import (
	"testing"
	"time"

	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1700000000000)

func TestDecodeKeepAlive(t *testing.T) {
	d := newDecoder("XBTZAR")
	for _, f := range []string{"", `""`, "\n"} {
		evs, err := d.decode([]byte(f), now)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, model.KindHeartbeat, evs[0].Kind())
		assert.Equal(t, "luno", evs[0].Venue())
		assert.Equal(t, "XBTZAR", evs[0].Pair())
	}
}

func TestDecodeSnapshotIgnored(t *testing.T) {
	d := newDecoder("XBTZAR")
	evs, err := d.decode([]byte(`{"sequence":"24352","asks":[{"id":"BXMC2CJ7HNB88U4","price":"1234.00","volume":"0.93"}],"bids":[],"status":"ACTIVE","timestamp":1528884331021}`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestDecodeTradeUpdates(t *testing.T) {
	d := newDecoder("XBTZAR")
	evs, err := d.decode([]byte(`{"sequence":"24353","trade_updates":[
		{"base":"0.1","counter":"5232","maker_order_id":"BXMC2CJ7HNB88U4","taker_order_id":"BXMC2CJ7HNB88U5"},
		{"base":"0.5","counter":"26000","maker_order_id":"BXMC2CJ7HNB88U6","taker_order_id":"BXMC2CJ7HNB88U5"}
	],"create_update":null,"delete_update":null,"timestamp":1469031991000}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	tr, ok := evs[0].Trade()
	require.True(t, ok)
	assert.Equal(t, "24353-0", tr.ID)
	assert.Equal(t, "52320", tr.Price.String())
	assert.Equal(t, "0.1", tr.Volume.String())
	assert.Equal(t, model.SideUnknown, tr.Side)
	assert.Equal(t, int64(1469031991000), evs[0].TimestampMs())

	tr, _ = evs[1].Trade()
	assert.Equal(t, "52000", tr.Price.String())
}

func TestDecodeSingleTradeKeepsSequence(t *testing.T) {
	d := newDecoder("XBTZAR")
	evs, err := d.decode([]byte(`{"sequence":"7","trade_updates":[{"base":"2","counter":"10"}],"timestamp":0}`), now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	tr, _ := evs[0].Trade()
	assert.Equal(t, "7", tr.ID)
	assert.Equal(t, "5", tr.Price.String())
	assert.Equal(t, now.UnixMilli(), evs[0].TimestampMs())
}

func TestDecodeOrderUpdateNoEvents(t *testing.T) {
	d := newDecoder("XBTZAR")
	evs, err := d.decode([]byte(`{"sequence":"8","trade_updates":null,"create_update":{"order_id":"X","type":"BID","price":"1","volume":"1"},"timestamp":1}`), now)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestDecodeMalformed(t *testing.T) {
	d := newDecoder("XBTZAR")
	_, err := d.decode([]byte(`{"sequence":`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)

	_, err = d.decode([]byte(`{"sequence":"9","trade_updates":[{"base":"0","counter":"1"}]}`), now)
	assert.ErrorIs(t, err, exchange.ErrMalformedFrame)
}
