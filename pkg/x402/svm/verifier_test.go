package svm

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/x402svm/facilitator/internal/accountcache"
	"github.com/x402svm/facilitator/pkg/x402"
)

// fakeChain is a ChainClient backed by an in-memory account set.
type fakeChain struct {
	accounts    map[string]bool
	lookupErr   error
	lookups     int
	sendSig     solana.Signature
	sendErr     error
	statuses    []TxStatus
	statusErrs  []error
	statusCalls int
}

func (f *fakeChain) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	f.lookups++
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.accounts[address.String()], nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.sendSig, nil
}

func (f *fakeChain) SignatureStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	i := f.statusCalls
	f.statusCalls++
	if i < len(f.statusErrs) && f.statusErrs[i] != nil {
		return TxStatus{}, f.statusErrs[i]
	}
	if i >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[i], nil
}

func (f *fakeChain) Health(ctx context.Context) error { return nil }

// txFixture holds a canonical exact-scheme payment transaction that every
// structural check accepts, for tests to mutate into failure shapes.
type txFixture struct {
	feePayer  solana.PublicKey
	client    solana.PublicKey
	payTo     solana.PublicKey
	mint      solana.PublicKey
	sourceATA solana.PublicKey
	destATA   solana.PublicKey
}

// Account key layout used by fixture transactions.
const (
	idxFeePayer = iota
	idxClient
	idxSourceATA
	idxMint
	idxDestATA
	idxPayTo
	idxSystemProgram
	idxComputeBudget
	idxTokenProgram
	idxATAProgram
)

func newTxFixture(t *testing.T) *txFixture {
	t.Helper()

	f := &txFixture{
		feePayer: solana.NewWallet().PublicKey(),
		client:   solana.NewWallet().PublicKey(),
		payTo:    solana.NewWallet().PublicKey(),
		mint:     solana.NewWallet().PublicKey(),
	}

	var err error
	f.sourceATA, _, err = solana.FindAssociatedTokenAddress(f.client, f.mint)
	if err != nil {
		t.Fatalf("derive source ATA: %v", err)
	}
	f.destATA, _, err = solana.FindAssociatedTokenAddress(f.payTo, f.mint)
	if err != nil {
		t.Fatalf("derive destination ATA: %v", err)
	}
	return f
}

func (f *txFixture) accountKeys() []solana.PublicKey {
	return []solana.PublicKey{
		f.feePayer,
		f.client,
		f.sourceATA,
		f.mint,
		f.destATA,
		f.payTo,
		solana.SystemProgramID,
		solana.ComputeBudget,
		solana.TokenProgramID,
		solana.SPLAssociatedTokenAccountProgramID,
	}
}

func computeLimitInstruction() solana.CompiledInstruction {
	return solana.CompiledInstruction{
		ProgramIDIndex: idxComputeBudget,
		Data:           []byte{setComputeUnitLimitDiscriminator, 0x40, 0x0d, 0x03, 0x00},
	}
}

func computePriceInstruction(microLamports uint64) solana.CompiledInstruction {
	data := make([]byte, 9)
	data[0] = setComputeUnitPriceDiscriminator
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.CompiledInstruction{
		ProgramIDIndex: idxComputeBudget,
		Data:           data,
	}
}

func transferCheckedInstruction(amount uint64, authorityIndex uint16) solana.CompiledInstruction {
	data := make([]byte, 10)
	data[0] = transferCheckedDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = 6 // decimals
	return solana.CompiledInstruction{
		ProgramIDIndex: idxTokenProgram,
		Accounts:       []uint16{idxSourceATA, idxMint, idxDestATA, authorityIndex},
		Data:           data,
	}
}

func createATAInstruction() solana.CompiledInstruction {
	return solana.CompiledInstruction{
		ProgramIDIndex: idxATAProgram,
		Accounts:       []uint16{idxClient, idxDestATA, idxPayTo, idxMint, idxSystemProgram, idxTokenProgram},
	}
}

// transaction assembles a fixture transaction from the given instructions.
func (f *txFixture) transaction(instructions ...solana.CompiledInstruction) *solana.Transaction {
	return &solana.Transaction{
		Signatures: make([]solana.Signature, 2),
		Message: solana.Message{
			Header: solana.MessageHeader{
				NumRequiredSignatures:       2,
				NumReadonlyUnsignedAccounts: 4,
			},
			AccountKeys:     f.accountKeys(),
			RecentBlockhash: solana.Hash(solana.NewWallet().PublicKey()),
			Instructions:    instructions,
		},
	}
}

// validTransaction builds the canonical three-instruction payment.
func (f *txFixture) validTransaction(amount uint64) *solana.Transaction {
	return f.transaction(
		computeLimitInstruction(),
		computePriceInstruction(100),
		transferCheckedInstruction(amount, idxClient),
	)
}

func (f *txFixture) requirements(amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkDevnet,
		MaxAmountRequired: amount,
		Asset:             f.mint.String(),
		PayTo:             f.payTo.String(),
		Extra:             x402.ExtraFields{FeePayer: f.feePayer.String()},
	}
}

func newTestVerifier(chain ChainClient) (*Verifier, *accountcache.Cache) {
	cache := accountcache.New(100, time.Minute)
	return NewVerifier(chain, cache, nil), cache
}

func errCode(t *testing.T, err error) x402.ErrorCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected a verification error, got nil")
	}
	var verr *x402.VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *x402.VerifyError, got %T: %v", err, err)
	}
	return verr.Code
}

func TestVerifyTransactionValid(t *testing.T) {
	f := newTxFixture(t)
	chain := &fakeChain{accounts: map[string]bool{
		f.sourceATA.String(): true,
		f.destATA.String():   true,
	}}
	verifier, _ := newTestVerifier(chain)

	err := verifier.VerifyTransaction(context.Background(), f.validTransaction(1_000_000), f.requirements("1000000"), f.feePayer)
	if err != nil {
		t.Fatalf("VerifyTransaction() = %v, want nil", err)
	}
}

func TestVerifyTransactionWithCreateATA(t *testing.T) {
	f := newTxFixture(t)
	// Destination does not exist; the create-ATA instruction covers it.
	chain := &fakeChain{accounts: map[string]bool{
		f.sourceATA.String(): true,
	}}
	verifier, _ := newTestVerifier(chain)

	tx := f.transaction(
		computeLimitInstruction(),
		computePriceInstruction(100),
		createATAInstruction(),
		transferCheckedInstruction(1_000_000, idxClient),
	)

	err := verifier.VerifyTransaction(context.Background(), tx, f.requirements("1000000"), f.feePayer)
	if err != nil {
		t.Fatalf("VerifyTransaction() = %v, want nil", err)
	}
}

func TestVerifyInstructionCount(t *testing.T) {
	f := newTxFixture(t)

	tests := []struct {
		name         string
		instructions int
		wantCreate   bool
		wantErr      bool
	}{
		{name: "three instructions", instructions: 3, wantCreate: false},
		{name: "four instructions", instructions: 4, wantCreate: true},
		{name: "two instructions", instructions: 2, wantErr: true},
		{name: "five instructions", instructions: 5, wantErr: true},
		{name: "empty", instructions: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instructions := make([]solana.CompiledInstruction, tt.instructions)
			for i := range instructions {
				instructions[i] = computeLimitInstruction()
			}
			tx := f.transaction(instructions...)

			hasCreate, err := VerifyInstructionCount(tx)
			if tt.wantErr {
				if got := errCode(t, err); got != x402.ErrInvalidInstructionCount {
					t.Errorf("code = %q, want %q", got, x402.ErrInvalidInstructionCount)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyInstructionCount() = %v, want nil", err)
			}
			if hasCreate != tt.wantCreate {
				t.Errorf("hasCreateATA = %v, want %v", hasCreate, tt.wantCreate)
			}
		})
	}
}

func TestVerifyComputeLimitInstruction(t *testing.T) {
	f := newTxFixture(t)

	tests := []struct {
		name    string
		mutate  func(*solana.CompiledInstruction)
		wantErr bool
	}{
		{name: "valid", mutate: func(*solana.CompiledInstruction) {}},
		{name: "wrong program", mutate: func(i *solana.CompiledInstruction) { i.ProgramIDIndex = idxTokenProgram }, wantErr: true},
		{name: "empty data", mutate: func(i *solana.CompiledInstruction) { i.Data = nil }, wantErr: true},
		{name: "wrong discriminator", mutate: func(i *solana.CompiledInstruction) { i.Data = []byte{0x01, 0, 0, 0, 0} }, wantErr: true},
		{name: "dangling program index", mutate: func(i *solana.CompiledInstruction) { i.ProgramIDIndex = 200 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := computeLimitInstruction()
			tt.mutate(&inst)
			tx := f.transaction(inst, computePriceInstruction(100), transferCheckedInstruction(1, idxClient))

			err := VerifyComputeLimitInstruction(tx, 0)
			if tt.wantErr {
				if got := errCode(t, err); got != x402.ErrInvalidComputeLimit {
					t.Errorf("code = %q, want %q", got, x402.ErrInvalidComputeLimit)
				}
			} else if err != nil {
				t.Errorf("VerifyComputeLimitInstruction() = %v, want nil", err)
			}
		})
	}
}

func TestVerifyComputePriceInstruction(t *testing.T) {
	f := newTxFixture(t)

	tests := []struct {
		name     string
		inst     solana.CompiledInstruction
		wantCode x402.ErrorCode
	}{
		{name: "valid", inst: computePriceInstruction(100)},
		{name: "at ceiling", inst: computePriceInstruction(MaxComputeUnitPrice)},
		{name: "above ceiling", inst: computePriceInstruction(MaxComputeUnitPrice + 1), wantCode: x402.ErrComputePriceTooHigh},
		{
			name: "wrong program",
			inst: func() solana.CompiledInstruction {
				i := computePriceInstruction(100)
				i.ProgramIDIndex = idxTokenProgram
				return i
			}(),
			wantCode: x402.ErrInvalidComputePrice,
		},
		{
			name:     "truncated price",
			inst:     solana.CompiledInstruction{ProgramIDIndex: idxComputeBudget, Data: []byte{setComputeUnitPriceDiscriminator, 1, 2, 3}},
			wantCode: x402.ErrInvalidComputePrice,
		},
		{
			name:     "wrong discriminator",
			inst:     solana.CompiledInstruction{ProgramIDIndex: idxComputeBudget, Data: []byte{0x02, 0, 0, 0, 0, 0, 0, 0, 0}},
			wantCode: x402.ErrInvalidComputePrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := f.transaction(computeLimitInstruction(), tt.inst, transferCheckedInstruction(1, idxClient))

			err := VerifyComputePriceInstruction(tx, 1)
			if tt.wantCode != "" {
				if got := errCode(t, err); got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			} else if err != nil {
				t.Errorf("VerifyComputePriceInstruction() = %v, want nil", err)
			}
		})
	}
}

func TestVerifyFeePayerSafety(t *testing.T) {
	f := newTxFixture(t)

	t.Run("clean transaction passes", func(t *testing.T) {
		tx := f.validTransaction(1)
		if err := VerifyFeePayerSafety(tx, f.feePayer); err != nil {
			t.Errorf("VerifyFeePayerSafety() = %v, want nil", err)
		}
	})

	t.Run("fee payer referenced by any instruction rejects", func(t *testing.T) {
		inst := transferCheckedInstruction(1, idxClient)
		inst.Accounts = append(inst.Accounts, idxFeePayer)
		tx := f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst)

		err := VerifyFeePayerSafety(tx, f.feePayer)
		if got := errCode(t, err); got != x402.ErrFeePayerInAccounts {
			t.Errorf("code = %q, want %q", got, x402.ErrFeePayerInAccounts)
		}
	})

	t.Run("out of range account index ignored", func(t *testing.T) {
		inst := transferCheckedInstruction(1, idxClient)
		inst.Accounts = append(inst.Accounts, 250)
		tx := f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst)

		if err := VerifyFeePayerSafety(tx, f.feePayer); err != nil {
			t.Errorf("VerifyFeePayerSafety() = %v, want nil", err)
		}
	})
}

func TestVerifyCreateATAInstruction(t *testing.T) {
	f := newTxFixture(t)

	tests := []struct {
		name     string
		mutate   func(*solana.CompiledInstruction)
		wantCode x402.ErrorCode
	}{
		{name: "valid", mutate: func(*solana.CompiledInstruction) {}},
		{name: "wrong program", mutate: func(i *solana.CompiledInstruction) { i.ProgramIDIndex = idxTokenProgram }, wantCode: x402.ErrInvalidCreateATA},
		{name: "too few accounts", mutate: func(i *solana.CompiledInstruction) { i.Accounts = i.Accounts[:5] }, wantCode: x402.ErrInvalidCreateATA},
		{name: "wrong owner", mutate: func(i *solana.CompiledInstruction) { i.Accounts[2] = idxClient }, wantCode: x402.ErrCreateATAIncorrectPayee},
		{name: "wrong mint", mutate: func(i *solana.CompiledInstruction) { i.Accounts[3] = idxPayTo }, wantCode: x402.ErrCreateATAIncorrectAsset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := createATAInstruction()
			tt.mutate(&inst)
			tx := f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst, transferCheckedInstruction(1, idxClient))

			err := VerifyCreateATAInstruction(tx, 2, f.requirements("1"))
			if tt.wantCode != "" {
				if got := errCode(t, err); got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			} else if err != nil {
				t.Errorf("VerifyCreateATAInstruction() = %v, want nil", err)
			}
		})
	}
}

func TestVerifyTransferInstruction(t *testing.T) {
	f := newTxFixture(t)

	tests := []struct {
		name     string
		tx       func() *solana.Transaction
		accounts map[string]bool
		wantCode x402.ErrorCode
	}{
		{
			name:     "amount short by one",
			tx:       func() *solana.Transaction { return f.validTransaction(999_999) },
			wantCode: x402.ErrAmountMismatch,
		},
		{
			name:     "amount over by one",
			tx:       func() *solana.Transaction { return f.validTransaction(1_000_001) },
			wantCode: x402.ErrAmountMismatch,
		},
		{
			name: "fee payer as authority",
			tx: func() *solana.Transaction {
				return f.transaction(
					computeLimitInstruction(),
					computePriceInstruction(100),
					transferCheckedInstruction(1_000_000, idxFeePayer),
				)
			},
			wantCode: x402.ErrFeePayerTransfersFunds,
		},
		{
			name: "wrong destination",
			tx: func() *solana.Transaction {
				inst := transferCheckedInstruction(1_000_000, idxClient)
				inst.Accounts[2] = idxPayTo // wallet itself, not its ATA
				return f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst)
			},
			wantCode: x402.ErrTransferToIncorrectATA,
		},
		{
			name: "not transfer checked",
			tx: func() *solana.Transaction {
				inst := transferCheckedInstruction(1_000_000, idxClient)
				inst.Data[0] = 0x03 // plain Transfer
				return f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst)
			},
			wantCode: x402.ErrNotATransferInstruction,
		},
		{
			name: "wrong program",
			tx: func() *solana.Transaction {
				inst := transferCheckedInstruction(1_000_000, idxClient)
				inst.ProgramIDIndex = idxSystemProgram
				return f.transaction(computeLimitInstruction(), computePriceInstruction(100), inst)
			},
			wantCode: x402.ErrNotATransferInstruction,
		},
		{
			name:     "sender missing on chain",
			tx:       func() *solana.Transaction { return f.validTransaction(1_000_000) },
			accounts: map[string]bool{f.destATA.String(): true},
			wantCode: x402.ErrSenderATANotFound,
		},
		{
			name:     "receiver missing on chain",
			tx:       func() *solana.Transaction { return f.validTransaction(1_000_000) },
			accounts: map[string]bool{f.sourceATA.String(): true},
			wantCode: x402.ErrReceiverATANotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := tt.accounts
			if accounts == nil {
				accounts = map[string]bool{
					f.sourceATA.String(): true,
					f.destATA.String():   true,
				}
			}
			verifier, _ := newTestVerifier(&fakeChain{accounts: accounts})

			err := verifier.VerifyTransaction(context.Background(), tt.tx(), f.requirements("1000000"), f.feePayer)
			if got := errCode(t, err); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestVerifyTokenProgram2022Accepted(t *testing.T) {
	f := newTxFixture(t)
	chain := &fakeChain{accounts: map[string]bool{
		f.sourceATA.String(): true,
		f.destATA.String():   true,
	}}
	verifier, _ := newTestVerifier(chain)

	tx := f.validTransaction(1_000_000)
	tx.Message.AccountKeys[idxTokenProgram] = solana.Token2022ProgramID

	err := verifier.VerifyTransaction(context.Background(), tx, f.requirements("1000000"), f.feePayer)
	if err != nil {
		t.Fatalf("VerifyTransaction() with token-2022 = %v, want nil", err)
	}
}

func TestAccountExistsRPCFailureReportsNotFound(t *testing.T) {
	f := newTxFixture(t)
	chain := &fakeChain{lookupErr: errors.New("rpc unreachable")}
	verifier, _ := newTestVerifier(chain)

	err := verifier.VerifyTransaction(context.Background(), f.validTransaction(1_000_000), f.requirements("1000000"), f.feePayer)
	if got := errCode(t, err); got != x402.ErrSenderATANotFound {
		t.Errorf("code = %q, want %q", got, x402.ErrSenderATANotFound)
	}
}

func TestAccountExistsUsesCache(t *testing.T) {
	f := newTxFixture(t)
	chain := &fakeChain{accounts: map[string]bool{
		f.sourceATA.String(): true,
		f.destATA.String():   true,
	}}
	verifier, _ := newTestVerifier(chain)

	for i := 0; i < 3; i++ {
		if err := verifier.VerifyTransaction(context.Background(), f.validTransaction(1_000_000), f.requirements("1000000"), f.feePayer); err != nil {
			t.Fatalf("VerifyTransaction() round %d = %v", i, err)
		}
	}

	// First round misses both accounts; later rounds are served from cache.
	if chain.lookups != 2 {
		t.Errorf("chain lookups = %d, want 2", chain.lookups)
	}
}
