package prover

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// PublicValuesSize is the length of the committed public values.
const PublicValuesSize = 110

// Metrics are the aggregate trading metrics proven for a trader.
type Metrics struct {
	Trader          string  `json:"trader"`
	TradeCount      uint32  `json:"trade_count"`
	WinCount        uint32  `json:"win_count"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalCollateral float64 `json:"total_collateral"`
	StartTimestamp  uint64  `json:"start_timestamp"`
	EndTimestamp    uint64  `json:"end_timestamp"`
}

// Featured is the single position highlighted by the proof.
type Featured struct {
	TradeID    uint64  `json:"trade_id"`
	PairIndex  uint32  `json:"pair_index"`
	IsBuy      bool    `json:"is_buy"`
	Leverage   float64 `json:"leverage"`
	Collateral float64 `json:"collateral"`
	EntryPrice float64 `json:"entry_price"`
	IsOpen     bool    `json:"is_open"`
	Timestamp  uint64  `json:"timestamp"`
}

type PublicValues struct {
	Metrics  Metrics
	Featured Featured
}

var priceScale = new(big.Float).SetFloat64(1e18)

// DecodePublicValues parses the big-endian layout committed by the proving
// program. Money fields are micro-units, leverage is x100 and the entry price
// is scaled by 1e18.
func DecodePublicValues(b []byte) (PublicValues, error) {
	if len(b) < PublicValuesSize {
		return PublicValues{}, fmt.Errorf("public values too short: %d bytes, expected %d", len(b), PublicValuesSize)
	}
	be := binary.BigEndian

	m := Metrics{
		Trader:          "0x" + hex.EncodeToString(b[0:20]),
		TradeCount:      be.Uint32(b[20:24]),
		WinCount:        be.Uint32(b[24:28]),
		TotalPnL:        float64(int64(be.Uint64(b[28:36]))) / 1e6,
		TotalCollateral: float64(be.Uint64(b[36:44])) / 1e6,
		StartTimestamp:  be.Uint64(b[44:52]),
		EndTimestamp:    be.Uint64(b[52:60]),
	}

	price, _ := new(big.Float).Quo(new(big.Float).SetInt(new(big.Int).SetBytes(b[85:101])), priceScale).Float64()
	f := Featured{
		TradeID:    be.Uint64(b[60:68]),
		PairIndex:  be.Uint32(b[68:72]),
		IsBuy:      b[72] == 1,
		Leverage:   float64(be.Uint32(b[73:77])) / 100,
		Collateral: float64(be.Uint64(b[77:85])) / 1e6,
		EntryPrice: price,
		IsOpen:     b[101] == 1,
		Timestamp:  be.Uint64(b[102:110]),
	}
	return PublicValues{Metrics: m, Featured: f}, nil
}

// DecodePublicValuesHex accepts the hex form returned by the proving service,
// with or without a 0x prefix.
func DecodePublicValuesHex(s string) (PublicValues, []byte, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return PublicValues{}, nil, fmt.Errorf("decode public values hex: %w", err)
	}
	pv, err := DecodePublicValues(raw)
	return pv, raw, err
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
