// internal/leverage/hops.go
package leverage

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// Hop describes where one flattened instruction lives inside a Route.
// AccountStart points at the first operand; the hop's program sits one slot before it.
type Hop struct {
	ProgramID    solana.PublicKey
	DataStart    uint16
	DataLen      uint16
	AccountStart uint16
	AccountCount uint16
}

// Route is the flattened form of a swap route: one data buffer, one hop table
// and one account list, all in input order.
type Route struct {
	Hops     []Hop
	Data     []byte
	Accounts []*solana.AccountMeta
}

// EncodeHops flattens ixs into a Route. The result is not size-checked: the
// transaction ceiling is enforced by whoever embeds the route.
func EncodeHops(ixs []solana.Instruction) (*Route, error) {
	route := &Route{
		Hops:     make([]Hop, 0, len(ixs)),
		Data:     []byte{},
		Accounts: []*solana.AccountMeta{},
	}

	dataCursor := 0
	accountCursor := 0
	for i, ix := range ixs {
		payload, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("hop %d: failed to get instruction data: %w", i, err)
		}
		operands := ix.Accounts()

		// The program is loaded as an extra non-signing, read-only account
		// so it is present in the transaction's account table.
		accountStart := accountCursor + 1
		if err := checkHopField("data start", i, dataCursor); err != nil {
			return nil, err
		}
		if err := checkHopField("data length", i, len(payload)); err != nil {
			return nil, err
		}
		if err := checkHopField("account start", i, accountStart); err != nil {
			return nil, err
		}
		if err := checkHopField("account count", i, len(operands)); err != nil {
			return nil, err
		}

		route.Hops = append(route.Hops, Hop{
			ProgramID:    ix.ProgramID(),
			DataStart:    uint16(dataCursor),
			DataLen:      uint16(len(payload)),
			AccountStart: uint16(accountStart),
			AccountCount: uint16(len(operands)),
		})

		route.Data = append(route.Data, payload...)
		route.Accounts = append(route.Accounts, solana.NewAccountMeta(ix.ProgramID(), false, false))
		for _, meta := range operands {
			route.Accounts = append(route.Accounts, &solana.AccountMeta{
				PublicKey:  meta.PublicKey,
				IsWritable: meta.IsWritable,
				IsSigner:   meta.IsSigner,
			})
		}

		dataCursor += len(payload)
		accountCursor += len(operands) + 1
	}

	return route, nil
}

func checkHopField(name string, hop, value int) error {
	if value > math.MaxUint16 {
		return fmt.Errorf("hop %d: %s %d does not fit into u16", hop, name, value)
	}
	return nil
}

// ProgramIDs returns the distinct programs referenced by the route, in first-seen order.
func (r *Route) ProgramIDs() solana.PublicKeySlice {
	var out solana.PublicKeySlice
	for _, hop := range r.Hops {
		out.UniqueAppend(hop.ProgramID)
	}
	return out
}
