// x402pay builds a partially-signed exact-scheme payment transaction and
// exercises a running facilitator's /verify and /settle endpoints with it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402svm/facilitator/pkg/x402"
)

func main() {
	var (
		facilitatorURL = flag.String("facilitator", "http://localhost:3000", "facilitator base URL")
		rpcURL         = flag.String("rpc", "https://api.devnet.solana.com", "Solana RPC endpoint")
		network        = flag.String("network", x402.NetworkDevnet, "x402 network identifier")
		keypairPath    = flag.String("keypair", "", "path to the payer keypair (solana-keygen JSON)")
		feePayerStr    = flag.String("fee-payer", "", "facilitator fee payer public key (base58)")
		mintStr        = flag.String("mint", "", "token mint (base58)")
		payToStr       = flag.String("pay-to", "", "recipient wallet (base58)")
		amount         = flag.Uint64("amount", 0, "amount in base units")
		decimals       = flag.Uint("decimals", 6, "token decimals")
		computePrice   = flag.Uint64("compute-price", 1000, "compute unit price in micro-lamports")
		settle         = flag.Bool("settle", false, "also call /settle after a successful /verify")
	)
	flag.Parse()

	for name, value := range map[string]string{
		"keypair":   *keypairPath,
		"fee-payer": *feePayerStr,
		"mint":      *mintStr,
		"pay-to":    *payToStr,
	} {
		if value == "" {
			log.Fatalf("%s flag is required", name)
		}
	}
	if *amount == 0 {
		log.Fatal("amount flag is required")
	}

	payerKey, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairPath)
	if err != nil {
		log.Fatalf("load keypair: %v", err)
	}
	feePayer := mustKey("fee-payer", *feePayerStr)
	mint := mustKey("mint", *mintStr)
	payTo := mustKey("pay-to", *payToStr)

	sourceATA, _, err := solana.FindAssociatedTokenAddress(payerKey.PublicKey(), mint)
	if err != nil {
		log.Fatalf("derive payer ATA: %v", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		log.Fatalf("derive recipient ATA: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	blockhash, err := rpc.New(*rpcURL).GetLatestBlockhash(ctx, rpc.CommitmentProcessed)
	if err != nil {
		log.Fatalf("latest blockhash: %v", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			computebudget.NewSetComputeUnitLimitInstruction(200_000).Build(),
			computebudget.NewSetComputeUnitPriceInstruction(*computePrice).Build(),
			token.NewTransferCheckedInstruction(
				*amount,
				uint8(*decimals),
				sourceATA,
				mint,
				destATA,
				payerKey.PublicKey(),
				nil,
			).Build(),
		},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		log.Fatalf("build transaction: %v", err)
	}

	// Sign only as the paying wallet; the facilitator adds the fee payer
	// signature during settlement.
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payerKey.PublicKey()) {
			return &payerKey
		}
		return nil
	}); err != nil {
		log.Fatalf("sign transaction: %v", err)
	}

	blob, err := tx.ToBase64()
	if err != nil {
		log.Fatalf("encode transaction: %v", err)
	}

	now := time.Now().Unix()
	request := x402.VerifyRequest{
		PaymentPayload: x402.PaymentPayload{
			X402Version: 1,
			Scheme:      x402.SchemeExact,
			Network:     *network,
			Payload:     x402.SVMPayload{Transaction: blob},
			Timestamp:   &now,
		},
		PaymentRequirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           *network,
			MaxAmountRequired: strconv.FormatUint(*amount, 10),
			Asset:             mint.String(),
			PayTo:             payTo.String(),
			Extra:             x402.ExtraFields{FeePayer: feePayer.String()},
		},
	}

	base := strings.TrimRight(*facilitatorURL, "/")

	var verifyResp x402.VerifyResponse
	if err := post(base+"/verify", request, &verifyResp); err != nil {
		log.Fatalf("verify: %v", err)
	}
	log.Printf("verify: isValid=%v payer=%s reason=%q", verifyResp.IsValid, verifyResp.Payer, verifyResp.InvalidReason)
	if !verifyResp.IsValid {
		os.Exit(1)
	}

	if *settle {
		var settleResp x402.SettleResponse
		if err := post(base+"/settle", request, &settleResp); err != nil {
			log.Fatalf("settle: %v", err)
		}
		log.Printf("settle: success=%v signature=%s reason=%q", settleResp.Success, settleResp.Transaction, settleResp.ErrorReason)
		if !settleResp.Success {
			os.Exit(1)
		}
		fmt.Printf("settled: https://explorer.solana.com/tx/%s?cluster=devnet\n", settleResp.Transaction)
	}
}

func mustKey(name, value string) solana.PublicKey {
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return key
}

func post(url string, body interface{}, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
