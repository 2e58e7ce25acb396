package domain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestMarketIDCoversFullTuple(t *testing.T) {
	require := require.New(t)

	base := Market{
		Token0:      common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Token1:      common.HexToAddress("0x1000000000000000000000000000000000000002"),
		FeeBips:     30,
		TickSpacing: 60,
	}
	require.Equal(base.ID(), base.ID())

	// Every parameter participates in the identity.
	variants := []Market{base, base, base, base}
	variants[0].Token0 = common.HexToAddress("0x1000000000000000000000000000000000000003")
	variants[1].Token1 = common.HexToAddress("0x1000000000000000000000000000000000000003")
	variants[2].FeeBips = 500
	variants[3].TickSpacing = 10

	seen := map[common.Hash]bool{base.ID(): true}
	for _, v := range variants {
		require.False(seen[v.ID()])
		seen[v.ID()] = true
	}
}

func TestMarketAssets(t *testing.T) {
	require := require.New(t)
	m := Market{
		Token0: common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Token1: common.HexToAddress("0x1000000000000000000000000000000000000002"),
	}

	offered, wanted := m.Assets(true)
	require.Equal(m.Token0, offered)
	require.Equal(m.Token1, wanted)

	offered, wanted = m.Assets(false)
	require.Equal(m.Token1, offered)
	require.Equal(m.Token0, wanted)
}

func TestOrderExpiryIsExclusive(t *testing.T) {
	require := require.New(t)
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := Order{Expiry: expiry}

	require.False(o.Expired(expiry.Add(-time.Second)))
	require.False(o.Expired(expiry))
	require.True(o.Expired(expiry.Add(time.Nanosecond)))
}
