/*
Package solana talks to the chain-S side of the bridge: it decodes bridge
program events out of transaction logs, pages transaction history and
estimates the network cost of an outbound order.
*/
package solana

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/qsbridge/bridgehub/pkg/bridge"
)

// ProgramDataPrefix starts every log line carrying an encoded bridge event.
const ProgramDataPrefix = "Program data: "

// Event discriminator bytes of the bridge program.
const (
	discInbound  = 0
	discOutbound = 1
	discOverride = 2
)

// Wire sizes of the fixed event layouts, discriminator excluded.
const (
	transferWireSize = 4 + 4 + 32 + 32 + 32 + 32 + 8 + 8 + 32
	overrideWireSize = 32 + 8 + 32
)

// DecodedEvent is one bridge event parsed from a program log line.
type DecodedEvent struct {
	Type    bridge.EventType
	Nonce   string // lowercase hex, 64 chars
	Payload any
}

// TransferPayload is the decoded outbound or inbound transfer record.
type TransferPayload struct {
	NetworkIn  uint32 `json:"networkIn"`
	NetworkOut uint32 `json:"networkOut"`
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	RelayerFee string `json:"relayerFee"`
	Nonce      string `json:"nonce"`
}

// OverridePayload is the decoded override-outbound record.
type OverridePayload struct {
	To         string `json:"to"`
	RelayerFee string `json:"relayerFee"`
	Nonce      string `json:"nonce"`
}

// DecodeProgramData parses one log line into a bridge event. Lines without
// the program-data prefix, with unknown discriminators or with short
// buffers yield nil so that unrelated or newer program logs never break
// ingestion.
func DecodeProgramData(line string) *DecodedEvent {
	encoded, ok := strings.CutPrefix(line, ProgramDataPrefix)
	if !ok {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case discInbound:
		return decodeTransfer(raw[1:], bridge.EventInbound)
	case discOutbound:
		return decodeTransfer(raw[1:], bridge.EventOutbound)
	case discOverride:
		return decodeOverride(raw[1:])
	default:
		return nil
	}
}

func decodeTransfer(raw []byte, typ bridge.EventType) *DecodedEvent {
	if len(raw) < transferWireSize {
		return nil
	}
	var (
		networkIn  = binary.LittleEndian.Uint32(raw[0:4])
		networkOut = binary.LittleEndian.Uint32(raw[4:8])
		tokenIn    = base58.Encode(raw[8:40])
		tokenOut   = base58.Encode(raw[40:72])
		from       = base58.Encode(raw[72:104])
		to         = base58.Encode(raw[104:136])
		amount     = binary.LittleEndian.Uint64(raw[136:144])
		relayerFee = binary.LittleEndian.Uint64(raw[144:152])
		nonce      = hex.EncodeToString(raw[152:184])
	)
	return &DecodedEvent{
		Type:  typ,
		Nonce: nonce,
		Payload: TransferPayload{
			NetworkIn:  networkIn,
			NetworkOut: networkOut,
			TokenIn:    tokenIn,
			TokenOut:   tokenOut,
			From:       from,
			To:         to,
			Amount:     strconv.FormatUint(amount, 10),
			RelayerFee: strconv.FormatUint(relayerFee, 10),
			Nonce:      nonce,
		},
	}
}

func decodeOverride(raw []byte) *DecodedEvent {
	if len(raw) < overrideWireSize {
		return nil
	}
	var (
		to         = base58.Encode(raw[0:32])
		relayerFee = binary.LittleEndian.Uint64(raw[32:40])
		nonce      = hex.EncodeToString(raw[40:72])
	)
	return &DecodedEvent{
		Type:  bridge.EventOverrideOutbound,
		Nonce: nonce,
		Payload: OverridePayload{
			To:         to,
			RelayerFee: strconv.FormatUint(relayerFee, 10),
			Nonce:      nonce,
		},
	}
}
