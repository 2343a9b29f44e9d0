package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// TokenBalance 查询 owner 在 mint 上的 ATA 余额（最小单位）
// An owner without a token account holds zero.
func TokenBalance(ctx context.Context, client *rpc.Client, owner, mint solana.PublicKey) (uint64, error) {
	ata, err := GetAssociatedTokenAddress(mint, owner)
	if err != nil {
		return 0, err
	}
	info, err := client.GetAccountInfo(ctx, ata)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load token account %s: %w", ata, err)
	}

	balResp, err := client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", ata, err)
	}
	if balResp == nil || balResp.Value == nil {
		return 0, fmt.Errorf("empty balance response for %s", ata)
	}
	amt, err := strconv.ParseUint(balResp.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", balResp.Value.Amount, err)
	}
	log.WithFields(log.Fields{"account": ata.String(), "amount": amt}).Debug("> token balance loaded")
	return amt, nil
}
