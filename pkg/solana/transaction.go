package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// 交易状态
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFinalized = "finalized"
	TxStatusFailed    = "failed"
)

// TransferRequest is one SPL token transfer signed by the owner of the source
// token account. Memo is written on-chain next to the transfer so the
// transaction can be matched back to the instruction that produced it.
type TransferRequest struct {
	Owner       solana.PrivateKey
	Destination solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	Memo        string
}

// GetAssociatedTokenAddress returns the ATA of owner for mint.
func GetAssociatedTokenAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return ata, nil
}

// BuildTransfer assembles and signs the transfer transaction. The returned
// signature is final before the transaction is sent, so callers can persist
// it first and query it later.
func BuildTransfer(ctx context.Context, client *rpc.Client, req TransferRequest) (*solana.Transaction, solana.Signature, error) {
	ownerPub := req.Owner.PublicKey()

	sourceATA, err := GetAssociatedTokenAddress(req.Mint, ownerPub)
	if err != nil {
		return nil, solana.Signature{}, err
	}
	targetATA, err := GetAssociatedTokenAddress(req.Mint, req.Destination)
	if err != nil {
		return nil, solana.Signature{}, err
	}

	var instructions []solana.Instruction

	// 目标 ATA 不存在时，由付款方在同一笔交易中创建
	targetInfo, _ := client.GetAccountInfo(ctx, targetATA)
	if targetInfo == nil || targetInfo.Value == nil {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(ownerPub, req.Destination, req.Mint).Build())
		log.Infof("> target ATA %s will be created", targetATA)
	}

	instructions = append(instructions,
		token.NewTransferInstruction(req.Amount, sourceATA, targetATA, ownerPub, nil).Build())
	if req.Memo != "" {
		instructions = append(instructions,
			solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{}, []byte(req.Memo)))
	}

	bh, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, bh.Value.Blockhash, solana.TransactionPayer(ownerPub))
	if err != nil {
		return nil, solana.Signature{}, err
	}
	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(ownerPub) {
			return &req.Owner
		}
		return nil
	})
	if err != nil {
		return nil, solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, sigs[0], nil
}

// SendTransfer submits a signed transaction built by BuildTransfer.
func SendTransfer(ctx context.Context, client *rpc.Client, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// CheckTransactionStatus 检查 Solana 交易状态
// Returns pending when the cluster has not seen the signature yet.
func CheckTransactionStatus(ctx context.Context, client *rpc.Client, signature string) (string, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature format: %v", err)
	}

	res, err := client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", fmt.Errorf("failed to get signature status: %v", err)
	}

	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return TxStatusPending, nil
	}

	status := res.Value[0]

	if status.Err != nil {
		errJSON, _ := json.Marshal(status.Err)
		log.Warnf("> transaction %s failed: %s", signature, string(errJSON))
		return TxStatusFailed, nil
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return TxStatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return TxStatusConfirmed, nil
	}
	return TxStatusPending, nil
}
