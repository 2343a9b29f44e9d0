// Package wallet maps holders to the accounts settlement pays into.
package wallet

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrivest/internal/business/errs"
	"agrivest/internal/models"
	"agrivest/pkg/solana"
)

// Directory resolves holder accounts from wallet_accounts. With a key manager
// attached, holders without a registered account get a custodial wallet on
// first resolution.
type Directory struct {
	db            *gorm.DB
	keys          *solana.KeyManager
	requireSolana bool
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// WithCustody enables custodial provisioning. Registered addresses must then
// be valid Solana public keys.
func (d *Directory) WithCustody(keys *solana.KeyManager) *Directory {
	d.keys = keys
	d.requireSolana = true
	return d
}

// ResolveAccount returns the settlement address of holderID.
func (d *Directory) ResolveAccount(ctx context.Context, holderID string) (string, error) {
	var account models.WalletAccount
	err := d.db.WithContext(ctx).Where("holder_id = ?", holderID).First(&account).Error
	if err == nil {
		return account.Address, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	if d.keys == nil {
		return "", errs.NotFound("no wallet registered for holder %s", holderID)
	}

	custodial, err := d.keys.NewCustodialWallet()
	if err != nil {
		return "", err
	}
	account = models.WalletAccount{
		HolderID:     holderID,
		Address:      custodial.Address,
		Custodial:    true,
		EncryptedKey: custodial.EncryptedKey,
	}
	// a concurrent resolver may have provisioned first; keep whichever landed
	err = d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "holder_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return "", err
	}
	var stored models.WalletAccount
	if err := d.db.WithContext(ctx).Where("holder_id = ?", holderID).First(&stored).Error; err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"holder_id": holderID, "address": stored.Address}).Info("> custodial wallet provisioned")
	return stored.Address, nil
}

// Register sets or replaces the address of holderID. A custodial wallet is
// never replaced: its encrypted key is the only way to move what was paid
// into it, and a leg may already be in flight to that address.
func (d *Directory) Register(ctx context.Context, holderID, address string) (*models.WalletAccount, error) {
	holderID, address = strings.TrimSpace(holderID), strings.TrimSpace(address)
	if holderID == "" || address == "" {
		return nil, errs.Validation("holder id and address are required")
	}
	if d.requireSolana && !solana.IsValidAddress(address) {
		return nil, errs.Validation("%q is not a valid Solana address", address)
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.WalletAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("holder_id = ?", holderID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			account := models.WalletAccount{HolderID: holderID, Address: address}
			// a concurrent custodial provisioning wins; it is checked below
			return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "holder_id"}}, DoNothing: true}).
				Create(&account).Error
		case err != nil:
			return err
		case existing.Custodial:
			log.WithFields(log.Fields{
				"holder_id": holderID,
				"address":   existing.Address,
			}).Warn("> refused to replace custodial wallet")
			return errs.InvalidState("holder %s has custodial wallet %s, it cannot be replaced", holderID, existing.Address)
		}
		return tx.Model(&existing).Update("address", address).Error
	})
	if err != nil {
		return nil, err
	}

	account, err := d.Get(ctx, holderID)
	if err != nil {
		return nil, err
	}
	if account.Custodial {
		return nil, errs.InvalidState("holder %s has custodial wallet %s, it cannot be replaced", holderID, account.Address)
	}
	return account, nil
}

func (d *Directory) Get(ctx context.Context, holderID string) (*models.WalletAccount, error) {
	var account models.WalletAccount
	if err := d.db.WithContext(ctx).Where("holder_id = ?", holderID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("no wallet registered for holder %s", holderID)
		}
		return nil, err
	}
	return &account, nil
}
