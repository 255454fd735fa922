// internal/leverage/instructions.go
package leverage

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Operation is a position lifecycle operation. Every operation is a setup/cleanup pair.
type Operation uint8

const (
	OpOpenPosition Operation = iota
	OpIncreasePosition
	OpClosePosition
	OpLiquidate
	OpTriggerOrder
)

var operationNames = map[Operation]string{
	OpOpenPosition:     "open_position",
	OpIncreasePosition: "increase_position",
	OpClosePosition:    "close_position",
	OpLiquidate:        "liquidate",
	OpTriggerOrder:     "trigger_order",
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", uint8(op))
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	_, ok := operationNames[op]
	return ok
}

// SetupDiscriminator returns the 8-byte Anchor discriminator of the setup instruction.
func (op Operation) SetupDiscriminator() [8]byte {
	return anchorDiscriminator(op.String() + "_setup")
}

// CleanupDiscriminator returns the 8-byte Anchor discriminator of the cleanup instruction.
func (op Operation) CleanupDiscriminator() [8]byte {
	return anchorDiscriminator(op.String() + "_cleanup")
}

func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// TriggerKind selects which side of a trigger order fired.
type TriggerKind uint8

const (
	TriggerStopLoss TriggerKind = iota
	TriggerTakeProfit
)

// SetupArgs is implemented by the argument struct of each setup instruction.
type SetupArgs interface {
	Operation() Operation
}

// OpenPositionArgs are the setup arguments for opening a leveraged position.
type OpenPositionArgs struct {
	Nonce               uint16
	MinTargetAmount     uint64
	DownPayment         uint64
	Principal           uint64
	Fee                 uint64
	ExpirationTimestamp int64
}

func (OpenPositionArgs) Operation() Operation { return OpOpenPosition }

type IncreasePositionArgs struct {
	MinTargetAmount     uint64
	DownPayment         uint64
	Principal           uint64
	Fee                 uint64
	ExpirationTimestamp int64
}

func (IncreasePositionArgs) Operation() Operation { return OpIncreasePosition }

type ClosePositionArgs struct {
	MinTargetAmount     uint64
	Interest            uint64
	ExecutionFee        uint64
	ExpirationTimestamp int64
}

func (ClosePositionArgs) Operation() Operation { return OpClosePosition }

type LiquidateArgs struct {
	MinTargetAmount     uint64
	Interest            uint64
	ExecutionFee        uint64
	ExpirationTimestamp int64
}

func (LiquidateArgs) Operation() Operation { return OpLiquidate }

// TriggerOrderArgs close a position when a stop-loss or take-profit order fires.
type TriggerOrderArgs struct {
	Kind                TriggerKind
	MinTargetAmount     uint64
	Interest            uint64
	ExecutionFee        uint64
	ExpirationTimestamp int64
}

func (TriggerOrderArgs) Operation() Operation { return OpTriggerOrder }

// CleanupArgs carry the encoded route into the cleanup instruction.
// Hops and Data must stay exactly as EncodeHops produced them.
type CleanupArgs struct {
	Hops []Hop
	Data []byte
}

// hopSize is the borsh size of one Hop: program id + four u16 fields.
const hopSize = solana.PublicKeyLength + 4*2

func (h Hop) MarshalWithEncoder(encoder *bin.Encoder) error {
	if _, err := encoder.Write(h.ProgramID[:]); err != nil {
		return err
	}
	for _, v := range []uint16{h.DataStart, h.DataLen, h.AccountStart, h.AccountCount} {
		if err := encoder.WriteUint16(v, binary.LittleEndian); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hop) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	raw, err := decoder.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	h.ProgramID = solana.PublicKeyFromBytes(raw)
	for _, dst := range []*uint16{&h.DataStart, &h.DataLen, &h.AccountStart, &h.AccountCount} {
		if *dst, err = decoder.ReadUint16(binary.LittleEndian); err != nil {
			return err
		}
	}
	return nil
}

func (a CleanupArgs) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteLength(len(a.Hops)); err != nil {
		return err
	}
	for _, hop := range a.Hops {
		if err := hop.MarshalWithEncoder(encoder); err != nil {
			return err
		}
	}
	return encoder.WriteBytes(a.Data, true)
}

func (a *CleanupArgs) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	count, err := decoder.ReadLength()
	if err != nil {
		return err
	}
	a.Hops = make([]Hop, count)
	for i := range a.Hops {
		if err := a.Hops[i].UnmarshalWithDecoder(decoder); err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}
	}
	a.Data, err = decoder.ReadByteSlice()
	return err
}

// encodeInstructionData writes discriminator || borsh(args).
func encodeInstructionData(discriminator [8]byte, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
