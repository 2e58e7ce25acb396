package domain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Market identifies one trading context: an asset pair plus the fee and
// spacing parameters of the pool it trades through. Two pools over the same
// pair with different parameters are distinct markets with independent order
// indexes.
type Market struct {
	Token0      common.Address
	Token1      common.Address
	FeeBips     uint32
	TickSpacing int32
}

// ID derives the market identifier from the full parameter tuple. Hashing
// only the pair would collide markets that differ in fee or spacing, which
// would let an order posted under one market be cancelled or purged through
// another.
func (m Market) ID() common.Hash {
	buf := make([]byte, 0, 2*common.AddressLength+8)
	buf = append(buf, m.Token0.Bytes()...)
	buf = append(buf, m.Token1.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, m.FeeBips)
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.TickSpacing))
	return crypto.Keccak256Hash(buf)
}

// Assets resolves the maker-side asset pair for a given direction flag:
// offered is what the seller escrows, wanted is what they receive.
func (m Market) Assets(sellToken0 bool) (offered, wanted common.Address) {
	if sellToken0 {
		return m.Token0, m.Token1
	}
	return m.Token1, m.Token0
}
