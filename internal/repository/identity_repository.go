package repository

import (
	"context"
	"errors"

	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrProviderConflict = errors.New("provider subject already linked")
)

type IdentityRepository interface {
	FindByID(id uint) (*domain.Identity, error)
	FindByEmail(email string) (*domain.Identity, error)
	FindByProviderSubject(provider, subject string) (*domain.Identity, error)
	Create(identity *domain.Identity) error
	// CreateWithProvider inserts the identity and its federated binding in
	// one transaction; a failed binding leaves no identity behind.
	CreateWithProvider(identity *domain.Identity, link *domain.FederatedIdentity) error
	LinkProvider(identityID uint, link *domain.FederatedIdentity) error
	Deactivate(identityID uint) error
}

type GormIdentityRepository struct{ db *gorm.DB }

func NewIdentityRepository(db *gorm.DB) IdentityRepository { return &GormIdentityRepository{db: db} }

func (r *GormIdentityRepository) FindByID(id uint) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.db.Preload("Providers").First(&identity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_id", "not_found")
			return nil, ErrIdentityNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_id", "success")
	return &identity, nil
}

func (r *GormIdentityRepository) FindByEmail(email string) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.db.Preload("Providers").Where("email = ?", email).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_email", "not_found")
			return nil, ErrIdentityNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_email", "success")
	return &identity, nil
}

func (r *GormIdentityRepository) FindByProviderSubject(provider, subject string) (*domain.Identity, error) {
	var link domain.FederatedIdentity
	err := r.db.Where("provider = ? AND subject = ?", provider, subject).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_provider_subject", "not_found")
			return nil, ErrIdentityNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "identity", "find_by_provider_subject", "error")
		return nil, err
	}
	return r.FindByID(link.IdentityID)
}

func (r *GormIdentityRepository) Create(identity *domain.Identity) error {
	err := r.db.Create(identity).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "identity", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "create", "success")
	return nil
}

func (r *GormIdentityRepository) CreateWithProvider(identity *domain.Identity, link *domain.FederatedIdentity) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(identity).Error; err != nil {
			return err
		}
		link.IdentityID = identity.ID
		return tx.Create(link).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "identity", "create_with_provider", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "create_with_provider", "success")
	return nil
}

func (r *GormIdentityRepository) LinkProvider(identityID uint, link *domain.FederatedIdentity) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.FederatedIdentity{}).
			Where("provider = ? AND subject = ?", link.Provider, link.Subject).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrProviderConflict
		}
		link.IdentityID = identityID
		return tx.Create(link).Error
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrProviderConflict) {
			outcome = "conflict"
		}
		observability.RecordRepositoryOperation(context.Background(), "identity", "link_provider", outcome)
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "link_provider", "success")
	return nil
}

func (r *GormIdentityRepository) Deactivate(identityID uint) error {
	err := r.db.Model(&domain.Identity{}).
		Where("id = ?", identityID).
		Update("status", domain.IdentityStatusDeactivated).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "identity", "deactivate", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "identity", "deactivate", "success")
	return nil
}
