package svm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/x402svm/facilitator/internal/accountcache"
	"github.com/x402svm/facilitator/internal/logger"
	"github.com/x402svm/facilitator/internal/metrics"
	"github.com/x402svm/facilitator/pkg/x402"
)

// Compute-budget instruction discriminators.
const (
	setComputeUnitLimitDiscriminator = 0x02
	setComputeUnitPriceDiscriminator = 0x03
)

// transferCheckedDiscriminator identifies the TransferChecked token
// instruction, the only transfer form the exact scheme accepts.
const transferCheckedDiscriminator = 0x0C

// MaxComputeUnitPrice is the per-transaction priority-fee ceiling in
// micro-lamports (5 lamports per compute unit). The facilitator pays the
// fee, so an unbounded price would let a client drain the fee-payer wallet
// through gas alone.
const MaxComputeUnitPrice uint64 = 5_000_000

// Verifier runs the structural checks of the exact scheme against a decoded
// transaction. All checks are pure except the two account-existence lookups,
// which consult the shared cache before touching the chain.
type Verifier struct {
	chain   ChainClient
	cache   *accountcache.Cache
	metrics *metrics.Metrics
}

// NewVerifier creates a verifier over the given chain client and account
// cache. The metrics collector is optional.
func NewVerifier(chain ChainClient, cache *accountcache.Cache, m *metrics.Metrics) *Verifier {
	return &Verifier{chain: chain, cache: cache, metrics: m}
}

// VerifyTransaction runs every structural and chain-precondition check of
// the exact scheme, in the order that keeps chain I/O last. The returned
// error, when non-nil, is always a *x402.VerifyError.
func (v *Verifier) VerifyTransaction(ctx context.Context, tx *solana.Transaction, req x402.PaymentRequirements, feePayer solana.PublicKey) error {
	hasCreateATA, err := VerifyInstructionCount(tx)
	if err != nil {
		return err
	}

	if err := VerifyComputeLimitInstruction(tx, 0); err != nil {
		return err
	}
	if err := VerifyComputePriceInstruction(tx, 1); err != nil {
		return err
	}

	// No RPC traffic before this passes.
	if err := VerifyFeePayerSafety(tx, feePayer); err != nil {
		return err
	}

	if hasCreateATA {
		if err := VerifyCreateATAInstruction(tx, 2, req); err != nil {
			return err
		}
	}

	transferIndex := 2
	if hasCreateATA {
		transferIndex = 3
	}
	return v.verifyTransferInstruction(ctx, tx, transferIndex, req, feePayer, hasCreateATA)
}

// VerifyInstructionCount checks that the transaction carries exactly the
// allowed instruction sequence length: 3 (limit, price, transfer) or 4
// (limit, price, create-ATA, transfer). Reports whether a create-ATA
// instruction is present.
func VerifyInstructionCount(tx *solana.Transaction) (hasCreateATA bool, err error) {
	count := len(tx.Message.Instructions)
	if count != 3 && count != 4 {
		return false, x402.NewVerifyError(x402.ErrInvalidInstructionCount,
			fmt.Errorf("%d instructions", count))
	}
	return count == 4, nil
}

// VerifyComputeLimitInstruction checks that the instruction at index is a
// SetComputeUnitLimit owned by the compute-budget program.
func VerifyComputeLimitInstruction(tx *solana.Transaction, index int) error {
	inst := tx.Message.Instructions[index]

	programID, ok := programIDOf(tx, inst)
	if !ok || !programID.Equals(solana.ComputeBudget) {
		return x402.Reject(x402.ErrInvalidComputeLimit)
	}
	if len(inst.Data) == 0 || inst.Data[0] != setComputeUnitLimitDiscriminator {
		return x402.Reject(x402.ErrInvalidComputeLimit)
	}
	return nil
}

// VerifyComputePriceInstruction checks that the instruction at index is a
// SetComputeUnitPrice owned by the compute-budget program and that the
// micro-lamport price does not exceed the ceiling. The boundary value
// passes; one above it rejects.
func VerifyComputePriceInstruction(tx *solana.Transaction, index int) error {
	inst := tx.Message.Instructions[index]

	programID, ok := programIDOf(tx, inst)
	if !ok || !programID.Equals(solana.ComputeBudget) {
		return x402.Reject(x402.ErrInvalidComputePrice)
	}
	if len(inst.Data) < 9 || inst.Data[0] != setComputeUnitPriceDiscriminator {
		return x402.Reject(x402.ErrInvalidComputePrice)
	}

	microLamports := binary.LittleEndian.Uint64(inst.Data[1:9])
	if microLamports > MaxComputeUnitPrice {
		return x402.NewVerifyError(x402.ErrComputePriceTooHigh,
			fmt.Errorf("%d micro-lamports exceeds ceiling %d", microLamports, MaxComputeUnitPrice))
	}
	return nil
}

// VerifyFeePayerSafety checks that the fee payer appears in no
// instruction's account list anywhere in the transaction. A fee payer
// referenced as signer, writable account, or authority of any
// sub-operation would let the transaction spend facilitator funds beyond
// the network fee.
func VerifyFeePayerSafety(tx *solana.Transaction, feePayer solana.PublicKey) error {
	for _, inst := range tx.Message.Instructions {
		for _, accountIndex := range inst.Accounts {
			if int(accountIndex) >= len(tx.Message.AccountKeys) {
				continue
			}
			if tx.Message.AccountKeys[accountIndex].Equals(feePayer) {
				return x402.Reject(x402.ErrFeePayerInAccounts)
			}
		}
	}
	return nil
}

// VerifyCreateATAInstruction checks the optional create-associated-token-
// account instruction: correct program, the canonical account order
// [payer, ata, owner, mint, system, token], owner matching payTo, and mint
// matching the asset.
func VerifyCreateATAInstruction(tx *solana.Transaction, index int, req x402.PaymentRequirements) error {
	inst := tx.Message.Instructions[index]

	programID, ok := programIDOf(tx, inst)
	if !ok || !programID.Equals(solana.SPLAssociatedTokenAccountProgramID) {
		return x402.Reject(x402.ErrInvalidCreateATA)
	}
	if len(inst.Accounts) < 6 {
		return x402.Reject(x402.ErrInvalidCreateATA)
	}

	owner, ok := accountAt(tx, inst, 2)
	if !ok {
		return x402.Reject(x402.ErrInvalidCreateATA)
	}
	mint, ok := accountAt(tx, inst, 3)
	if !ok {
		return x402.Reject(x402.ErrInvalidCreateATA)
	}

	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return x402.NewVerifyError(x402.ErrCreateATAIncorrectPayee, err)
	}
	if !owner.Equals(payTo) {
		return x402.Reject(x402.ErrCreateATAIncorrectPayee)
	}

	asset, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return x402.NewVerifyError(x402.ErrCreateATAIncorrectAsset, err)
	}
	if !mint.Equals(asset) {
		return x402.Reject(x402.ErrCreateATAIncorrectAsset)
	}
	return nil
}

// verifyTransferInstruction checks the final TransferChecked instruction:
// program identity, wire shape, exact amount, authority and destination
// safety, then the chain-existence preconditions for the source and
// (absent a create-ATA) destination accounts.
func (v *Verifier) verifyTransferInstruction(ctx context.Context, tx *solana.Transaction, index int, req x402.PaymentRequirements, feePayer solana.PublicKey, hasCreateATA bool) error {
	inst := tx.Message.Instructions[index]

	programID, ok := programIDOf(tx, inst)
	if !ok {
		return x402.Reject(x402.ErrNotATransferInstruction)
	}
	if !programID.Equals(solana.TokenProgramID) && !programID.Equals(solana.Token2022ProgramID) {
		return x402.Reject(x402.ErrNotATransferInstruction)
	}

	// TransferChecked wire format: discriminator(1) + amount(8) + decimals(1).
	if len(inst.Data) < 10 || inst.Data[0] != transferCheckedDiscriminator {
		return x402.Reject(x402.ErrNotATransferInstruction)
	}
	if len(inst.Accounts) < 4 {
		return x402.Reject(x402.ErrNotATransferInstruction)
	}

	// Account order: [source, mint, destination, authority, ...].
	source, okSource := accountAt(tx, inst, 0)
	destination, okDest := accountAt(tx, inst, 2)
	authority, okAuth := accountAt(tx, inst, 3)
	if !okSource || !okDest || !okAuth {
		return x402.Reject(x402.ErrNotATransferInstruction)
	}

	amount := binary.LittleEndian.Uint64(inst.Data[1:9])
	requiredAmount, err := strconv.ParseUint(req.MaxAmountRequired, 10, 64)
	if err != nil {
		return x402.NewVerifyError(x402.ErrAmountMismatch,
			fmt.Errorf("unparseable required amount %q", req.MaxAmountRequired))
	}
	if amount != requiredAmount {
		return x402.NewVerifyError(x402.ErrAmountMismatch,
			fmt.Errorf("transfer amount %d, required %d", amount, requiredAmount))
	}

	if authority.Equals(feePayer) {
		return x402.Reject(x402.ErrFeePayerTransfersFunds)
	}

	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return x402.NewVerifyError(x402.ErrTransferToIncorrectATA, err)
	}
	asset, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return x402.NewVerifyError(x402.ErrTransferToIncorrectATA, err)
	}
	expectedDestination, _, err := solana.FindAssociatedTokenAddress(payTo, asset)
	if err != nil {
		return x402.NewVerifyError(x402.ErrTransferToIncorrectATA, err)
	}
	if !destination.Equals(expectedDestination) {
		return x402.NewVerifyError(x402.ErrTransferToIncorrectATA,
			fmt.Errorf("destination %s, expected %s", destination, expectedDestination))
	}

	if !v.accountExists(ctx, source, "sender_ata") {
		return x402.Reject(x402.ErrSenderATANotFound)
	}

	// When the transaction carries a create-ATA instruction the destination
	// is created atomically with the transfer.
	if !hasCreateATA && !v.accountExists(ctx, expectedDestination, "receiver_ata") {
		return x402.Reject(x402.ErrReceiverATANotFound)
	}

	return nil
}

// accountExists answers the chain-existence precondition through the
// shared cache. RPC failure reports "not found": the observable the
// protocol promises. The unavailability itself is logged distinctly so
// operators can tell the two apart.
func (v *Verifier) accountExists(ctx context.Context, address solana.PublicKey, accountType string) bool {
	if exists, ok := v.cache.Get(address.String()); ok {
		v.observeCache(accountType, true)
		return exists
	}
	v.observeCache(accountType, false)

	exists, err := v.chain.AccountExists(ctx, address)
	if err != nil {
		v.logRPCFailure(ctx, address, err)
		return false
	}

	// Only positive results are cached: a missing account may be created
	// at any moment and must become visible immediately.
	if exists {
		v.cache.Set(address.String(), true)
	}
	return exists
}

func (v *Verifier) observeCache(accountType string, hit bool) {
	if v.metrics == nil {
		return
	}
	if hit {
		v.metrics.ObserveCacheHit(accountType)
	} else {
		v.metrics.ObserveCacheMiss(accountType)
	}
	v.metrics.SetCacheSize(v.cache.Len())
}

func (v *Verifier) logRPCFailure(ctx context.Context, address solana.PublicKey, err error) {
	log := logger.FromContext(ctx)
	var lvl *zerolog.Event
	if errors.Is(err, context.Canceled) {
		lvl = log.Debug()
	} else {
		lvl = log.Warn()
	}
	lvl.Err(err).
		Str("account", logger.TruncateAddress(address.String())).
		Msg("verify.account_lookup_failed_reported_not_found")
}

// programIDOf resolves the program key an instruction targets. A dangling
// index makes the instruction invalid rather than a panic.
func programIDOf(tx *solana.Transaction, inst solana.CompiledInstruction) (solana.PublicKey, bool) {
	if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[inst.ProgramIDIndex], true
}

// accountAt resolves the n-th account an instruction references.
func accountAt(tx *solana.Transaction, inst solana.CompiledInstruction, n int) (solana.PublicKey, bool) {
	if n >= len(inst.Accounts) {
		return solana.PublicKey{}, false
	}
	keyIndex := inst.Accounts[n]
	if int(keyIndex) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[keyIndex], true
}
