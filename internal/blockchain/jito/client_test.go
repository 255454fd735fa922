// internal/blockchain/jito/client_test.go
package jito

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// blockEngine отвечает на JSON-RPC запросы через handler и считает вызовы по методам
func blockEngine(t *testing.T, handler func(req rpcRequest) (interface{}, *int)) (*httptest.Server, map[string]*atomic.Int32) {
	t.Helper()
	calls := map[string]*atomic.Int32{"sendBundle": {}, "getTipAccounts": {}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bundlesPath, r.URL.Path)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if c, ok := calls[req.Method]; ok {
			c.Add(1)
		}

		result, errCode := handler(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if errCode != nil {
			resp["error"] = map[string]interface{}{"code": *errCode, "message": "rejected"}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testWallet() *wallet.Wallet {
	w := solana.NewWallet()
	return &wallet.Wallet{PrivateKey: w.PrivateKey, PublicKey: w.PublicKey()}
}

func testTransaction(t *testing.T, payer solana.PublicKey, dataLen int) *solana.Transaction {
	t.Helper()
	ix := solana.NewInstruction(solana.NewWallet().PublicKey(), []*solana.AccountMeta{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.NewWallet().PublicKey(), true, false),
	}, make([]byte, dataLen))
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	return tx
}

func isTipAccount(pk solana.PublicKey) bool {
	for _, a := range fallbackTipAccounts {
		if a.Equals(pk) {
			return true
		}
	}
	return false
}

// assertTipTransfer проверяет, что ix – перевод lamports от payer на tip-аккаунт
func assertTipTransfer(t *testing.T, tx *solana.Transaction, ix solana.CompiledInstruction, payer solana.PublicKey, lamports uint64) {
	t.Helper()
	program, err := tx.Message.Program(ix.ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, program)

	require.Len(t, ix.Data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(ix.Data[:4]))
	assert.Equal(t, lamports, binary.LittleEndian.Uint64(ix.Data[4:]))

	accounts, err := ix.ResolveInstructionAccounts(&tx.Message)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, isTipAccount(accounts[1].PublicKey))
}

func TestSendBundle(t *testing.T) {
	srv, calls := blockEngine(t, func(req rpcRequest) (interface{}, *int) {
		require.Len(t, req.Params, 2)
		var txs []string
		require.NoError(t, json.Unmarshal(req.Params[0], &txs))
		assert.Equal(t, []string{"AAA", "BBB"}, txs)
		assert.JSONEq(t, `{"encoding":"base64"}`, string(req.Params[1]))
		return "bundle-id-1", nil
	})

	c := NewClient(srv.URL, nil, zap.NewNop())
	id, err := c.SendBundle(context.Background(), []string{"AAA", "BBB"})
	require.NoError(t, err)
	assert.Equal(t, "bundle-id-1", id)
	assert.Equal(t, int32(1), calls["sendBundle"].Load())

	_, err = c.SendBundle(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBundle)
}

func TestSendBundle_Rejected(t *testing.T) {
	code := -32602
	srv, _ := blockEngine(t, func(rpcRequest) (interface{}, *int) { return nil, &code })

	_, err := NewClient(srv.URL, nil, zap.NewNop()).SendBundle(context.Background(), []string{"AAA"})
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "sendBundle", engineErr.Method)
}

func TestGetTipAccounts(t *testing.T) {
	want := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	srv, calls := blockEngine(t, func(rpcRequest) (interface{}, *int) {
		return []string{want[0].String(), "not-a-key", want[1].String()}, nil
	})

	c := NewClient(srv.URL, nil, zap.NewNop())
	got, err := c.GetTipAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = c.GetTipAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls["getTipAccounts"].Load(), "tip accounts are cached")
}

func TestGetTipAccounts_Fallback(t *testing.T) {
	code := -32000
	srv, calls := blockEngine(t, func(rpcRequest) (interface{}, *int) { return nil, &code })

	c := NewClient(srv.URL, nil, zap.NewNop())
	got, err := c.GetTipAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FallbackTipAccounts(), got)

	// запасной список не кешируется, следующий вызов спрашивает снова
	_, _ = c.GetTipAccounts(context.Background())
	assert.Equal(t, int32(2), calls["getTipAccounts"].Load())
}

func fallbackEngine(t *testing.T) *httptest.Server {
	code := -32000
	srv, _ := blockEngine(t, func(rpcRequest) (interface{}, *int) { return nil, &code })
	return srv
}

func TestAppendTipTransaction(t *testing.T) {
	w := testWallet()
	c := NewClient(fallbackEngine(t).URL, w, zap.NewNop())
	txs := []*solana.Transaction{testTransaction(t, w.PublicKey, 10)}
	blockhash := solana.Hash{4, 2}

	out, err := c.AppendTipTransaction(context.Background(), txs, Tip{
		Payer:     w.PublicKey,
		Lamports:  50_000,
		Blockhash: blockhash,
		Budget:    computebudget.Config{Units: computebudget.TipUnits, UnitPrice: 100},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Same(t, txs[0], out[0])

	tipTx := out[1]
	assert.Equal(t, blockhash, tipTx.Message.RecentBlockhash)
	require.Len(t, tipTx.Message.Instructions, 3)
	assertTipTransfer(t, tipTx, tipTx.Message.Instructions[2], w.PublicKey, 50_000)
	require.NoError(t, tipTx.VerifySignatures())
}

func TestAppendTipInstruction(t *testing.T) {
	w := testWallet()
	c := NewClient(fallbackEngine(t).URL, w, zap.NewNop())
	first := testTransaction(t, w.PublicKey, 10)
	last := testTransaction(t, w.PublicKey, 20)
	lastSize, err := blockchain.SerializedSize(last)
	require.NoError(t, err)

	out, err := c.AppendTipInstruction(context.Background(), []*solana.Transaction{first, last}, Tip{
		Payer:    w.PublicKey,
		Lamports: 12_345,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Same(t, first, out[0])

	tipped := out[1]
	assert.Equal(t, last.Message.RecentBlockhash, tipped.Message.RecentBlockhash)
	require.Len(t, tipped.Message.Instructions, 2)
	assert.Equal(t, []byte(last.Message.Instructions[0].Data), []byte(tipped.Message.Instructions[0].Data))
	assertTipTransfer(t, tipped, tipped.Message.Instructions[1], w.PublicKey, 12_345)
	require.NoError(t, tipped.VerifySignatures())

	tippedSize, err := blockchain.SerializedSize(tipped)
	require.NoError(t, err)
	assert.LessOrEqual(t, tippedSize-lastSize, 81, "tip instruction grows the transaction by at most the reserved headroom")
}

func TestAppendTipInstruction_TooLarge(t *testing.T) {
	w := testWallet()
	c := NewClient(fallbackEngine(t).URL, w, zap.NewNop())
	last := testTransaction(t, w.PublicKey, 1000)

	_, err := c.AppendTipInstruction(context.Background(), []*solana.Transaction{last}, Tip{Payer: w.PublicKey, Lamports: 1})
	assert.ErrorIs(t, err, blockchain.ErrTransactionTooLarge)
}

func TestAppendTip_MissingSigner(t *testing.T) {
	w := testWallet()
	other := testWallet()
	c := NewClient(fallbackEngine(t).URL, w, zap.NewNop())

	_, err := c.AppendTipInstruction(context.Background(),
		[]*solana.Transaction{testTransaction(t, other.PublicKey, 10)},
		Tip{Payer: w.PublicKey, Lamports: 1})
	assert.ErrorIs(t, err, ErrMissingSigner)
	assert.ErrorIs(t, err, ErrCannotRecompile)

	noWallet := NewClient(fallbackEngine(t).URL, nil, zap.NewNop())
	_, err = noWallet.AppendTipTransaction(context.Background(), nil, Tip{Payer: w.PublicKey, Lamports: 1})
	assert.ErrorIs(t, err, ErrMissingSigner)
}

type mockAccountFetcher struct {
	mock.Mock
}

func (m *mockAccountFetcher) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	args := m.Called(ctx, pubkey)
	if res, ok := args.Get(0).(*rpc.GetAccountInfoResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func lookupTableAccount(t *testing.T, addresses solana.PublicKeySlice) *rpc.GetAccountInfoResult {
	t.Helper()
	raw, err := bin.MarshalBin(addresslookuptable.AddressLookupTableState{
		TypeIndex:        1,
		DeactivationSlot: math.MaxUint64,
		Addresses:        addresses,
	})
	require.NoError(t, err)
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{
		Owner: solana.AddressLookupTableProgramID,
		Data:  rpc.DataBytesOrJSONFromBytes(raw),
	}}
}

// decodedV0Transaction собирает v0 транзакцию с lookup table и прогоняет её через
// base64, как это делает CLI: у декодированной транзакции таблицы не загружены.
func decodedV0Transaction(t *testing.T, payer solana.PublicKey) (*solana.Transaction, solana.PublicKey, solana.PublicKeySlice) {
	t.Helper()
	tableID := solana.NewWallet().PublicKey()
	table := solana.PublicKeySlice{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	ix := solana.NewInstruction(solana.NewWallet().PublicKey(), []*solana.AccountMeta{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(table[0], true, false),
		solana.NewAccountMeta(table[1], false, false),
	}, []byte{1, 2, 3})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer),
		solana.TransactionAddressTables(map[solana.PublicKey]solana.PublicKeySlice{tableID: table}))
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	decoded, err := solana.TransactionFromBase64(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.NotEmpty(t, decoded.Message.AddressTableLookups)
	require.Empty(t, decoded.Message.GetAddressTables())
	return decoded, tableID, table
}

func TestAppendTipInstruction_DecodedV0LoadsTables(t *testing.T) {
	w := testWallet()
	last, tableID, table := decodedV0Transaction(t, w.PublicKey)
	fetcher := new(mockAccountFetcher)
	fetcher.On("GetAccountInfo", mock.Anything, tableID).Return(lookupTableAccount(t, table), nil).Once()

	c := NewClient(fallbackEngine(t).URL, w, zap.NewNop()).WithLookupTables(fetcher)
	out, err := c.AppendTipInstruction(context.Background(), []*solana.Transaction{last}, Tip{
		Payer:    w.PublicKey,
		Lamports: 7_000,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	fetcher.AssertExpectations(t)

	tipped := out[0]
	assert.Equal(t, last.Message.RecentBlockhash, tipped.Message.RecentBlockhash)
	assert.Equal(t, solana.PublicKeySlice{tableID}, tipped.Message.AddressTableLookups.GetTableIDs())
	require.Len(t, tipped.Message.Instructions, 2)
	assertTipTransfer(t, tipped, tipped.Message.Instructions[1], w.PublicKey, 7_000)
	require.NoError(t, tipped.VerifySignatures())

	// таблицы выставлены на копии сообщения
	assert.Empty(t, last.Message.GetAddressTables())
}

func TestAppendTipInstruction_CannotRecompile(t *testing.T) {
	w := testWallet()
	last, tableID, _ := decodedV0Transaction(t, w.PublicKey)
	tip := Tip{Payer: w.PublicKey, Lamports: 1}

	_, err := NewClient(fallbackEngine(t).URL, w, zap.NewNop()).
		AppendTipInstruction(context.Background(), []*solana.Transaction{last}, tip)
	assert.ErrorIs(t, err, ErrCannotRecompile)

	fetcher := new(mockAccountFetcher)
	fetcher.On("GetAccountInfo", mock.Anything, tableID).Return(nil, errors.New("rpc down"))
	_, err = NewClient(fallbackEngine(t).URL, w, zap.NewNop()).WithLookupTables(fetcher).
		AppendTipInstruction(context.Background(), []*solana.Transaction{last}, tip)
	assert.ErrorIs(t, err, ErrCannotRecompile)
	assert.ErrorContains(t, err, "rpc down")
}
