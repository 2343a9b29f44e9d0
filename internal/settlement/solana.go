package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"agrivest/internal/models"
	"agrivest/internal/store"
	solanautil "agrivest/pkg/solana"
)

// blockhashValidity bounds how long an unseen signature can still land.
const blockhashValidity = 2 * time.Minute

// SolanaSettler pays legs as SPL token transfers signed by the settlement hot
// wallet. The idempotency key travels in the memo and is mapped to the
// transaction signature in solana_transfers before the transaction is sent.
type SolanaSettler struct {
	db       *gorm.DB
	client   *rpc.Client
	signer   solana.PrivateKey
	mint     solana.PublicKey
	decimals int32
	clock    clockwork.Clock
}

func NewSolanaSettler(db *gorm.DB, client *rpc.Client, signer solana.PrivateKey, mint solana.PublicKey, decimals uint8, clock clockwork.Clock) *SolanaSettler {
	return &SolanaSettler{
		db:       db,
		client:   client,
		signer:   signer,
		mint:     mint,
		decimals: int32(decimals),
		clock:    clock,
	}
}

func (s *SolanaSettler) Transfer(ctx context.Context, ins Instruction) (Status, error) {
	if ins.FromAccount != s.signer.PublicKey().String() {
		return StatusFailed, fmt.Errorf("%w: settler signs for %s, instruction debits %s",
			ErrInvalidInstruction, s.signer.PublicKey(), ins.FromAccount)
	}
	dest, err := solana.PublicKeyFromBase58(ins.ToAccount)
	if err != nil {
		return StatusFailed, fmt.Errorf("%w: destination %q: %v", ErrInvalidInstruction, ins.ToAccount, err)
	}
	raw := ins.Amount.Shift(s.decimals)
	if !raw.IsInteger() || !raw.IsPositive() {
		return StatusFailed, fmt.Errorf("%w: amount %s not representable with %d decimals", ErrInvalidInstruction, ins.Amount, s.decimals)
	}

	var record models.SolanaTransfer
	err = s.db.WithContext(ctx).Where("idempotency_key = ?", ins.IdempotencyKey).First(&record).Error
	switch {
	case err == nil:
		status, qerr := s.statusOf(ctx, &record)
		if qerr != nil || status != StatusFailed {
			return status, qerr
		}
		// previous attempt provably did not land, send a fresh transaction
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.SolanaTransfer{
			IdempotencyKey: ins.IdempotencyKey,
			FromAccount:    ins.FromAccount,
			ToAccount:      ins.ToAccount,
			Mint:           s.mint.String(),
			RawAmount:      uint64(raw.IntPart()),
		}
	default:
		return StatusPending, err
	}

	held, err := solanautil.TokenBalance(ctx, s.client, s.signer.PublicKey(), s.mint)
	if err != nil {
		return StatusPending, err
	}
	if held < record.RawAmount {
		// nothing was sent, the leg can be resubmitted once the wallet is funded
		return StatusFailed, fmt.Errorf("%w: settlement wallet holds %d, transfer needs %d",
			ErrInvalidInstruction, held, record.RawAmount)
	}

	tx, sig, err := solanautil.BuildTransfer(ctx, s.client, solanautil.TransferRequest{
		Owner:       s.signer,
		Destination: dest,
		Mint:        s.mint,
		Amount:      uint64(raw.IntPart()),
		Memo:        ins.IdempotencyKey,
	})
	if err != nil {
		return StatusPending, err
	}

	claimed, err := s.recordSignature(ctx, &record, sig.String())
	if err != nil {
		return StatusPending, err
	}
	if !claimed {
		// another submitter recorded a transaction for this key first
		log.WithField("idempotency_key", ins.IdempotencyKey).Info("> solana transfer already in flight, not sending")
		return StatusPending, nil
	}

	if _, err := solanautil.SendTransfer(ctx, s.client, tx); err != nil {
		// the signature is recorded, so a later query settles the outcome
		log.WithError(err).WithField("idempotency_key", ins.IdempotencyKey).Warn("> solana send failed")
		return StatusPending, err
	}
	log.WithFields(log.Fields{
		"idempotency_key": ins.IdempotencyKey,
		"signature":       record.Signature,
	}).Info("> solana transfer sent")
	return StatusPending, nil
}

// recordSignature maps the key to sig before the transaction is sent. A new
// record relies on the unique key; a resubmission only replaces the signature
// it read, so of two concurrent submitters exactly one may send. It reports
// whether this caller won.
func (s *SolanaSettler) recordSignature(ctx context.Context, record *models.SolanaTransfer, sig string) (bool, error) {
	db := s.db.WithContext(ctx)
	if record.ID == 0 {
		record.Signature = sig
		record.Status = solanautil.TxStatusPending
		if err := db.Create(record).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	res := db.Model(&models.SolanaTransfer{}).
		Where("id = ? AND signature = ?", record.ID, record.Signature).
		Updates(map[string]interface{}{
			"signature": sig,
			"status":    solanautil.TxStatusPending,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	record.Signature = sig
	record.Status = solanautil.TxStatusPending
	return true, nil
}

func (s *SolanaSettler) QueryStatus(ctx context.Context, idempotencyKey string) (Status, error) {
	var record models.SolanaTransfer
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusFailed, nil
	}
	if err != nil {
		return StatusPending, err
	}
	return s.statusOf(ctx, &record)
}

func (s *SolanaSettler) statusOf(ctx context.Context, record *models.SolanaTransfer) (Status, error) {
	if record.Signature == "" {
		return StatusFailed, nil
	}
	txStatus, err := solanautil.CheckTransactionStatus(ctx, s.client, record.Signature)
	if err != nil {
		return StatusPending, err
	}

	var status Status
	switch txStatus {
	case solanautil.TxStatusConfirmed, solanautil.TxStatusFinalized:
		status = StatusConfirmed
	case solanautil.TxStatusFailed:
		status = StatusFailed
	default:
		status = StatusPending
		if s.clock.Since(record.UpdatedAt) > blockhashValidity {
			// blockhash expired without the signature landing
			status = StatusFailed
		}
	}

	if string(status) != record.Status {
		err := s.db.WithContext(ctx).Model(&models.SolanaTransfer{}).
			Where("id = ? AND signature = ?", record.ID, record.Signature).
			Update("status", string(status)).Error
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"idempotency_key": record.IdempotencyKey,
				"signature":       record.Signature,
			}).Warn("> failed to record solana transfer status")
		} else {
			record.Status = string(status)
		}
	}
	return status, nil
}
