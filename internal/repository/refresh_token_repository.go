package repository

import (
	"context"
	"errors"
	"time"

	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRotationConflict is returned to rotation losers: the row existed but
	// was no longer active when the conditional update ran.
	ErrRotationConflict = errors.New("refresh token rotation conflict")
)

// RefreshTokenRepository is the durable ledger of refresh-token families.
// It is the single source of truth for refresh authorization; every mutation
// is transactional.
type RefreshTokenRepository interface {
	Create(token *domain.RefreshToken) error
	FindByHash(hash string) (*domain.RefreshToken, error)
	// Rotate flips the presented token from active to rotated and inserts its
	// child in one transaction. The status flip is a compare-and-set: when a
	// concurrent rotation already claimed the row, ErrRotationConflict is
	// returned and no child is inserted.
	Rotate(oldID string, child *domain.RefreshToken) error
	RevokeFamily(familyID, reason string) (int64, error)
	RevokeByIdentity(identityID uint, reason string) (int64, error)
	ListActiveByIdentity(identityID uint) ([]domain.RefreshToken, error)
	CleanupExpired(before time.Time) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(token *domain.RefreshToken) error {
	err := r.db.Create(token).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(hash string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.db.Where("secret_hash = ?", hash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_hash", "success")
	return &token, nil
}

func (r *GormRefreshTokenRepository) Rotate(oldID string, child *domain.RefreshToken) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var parent domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", oldID).
			First(&parent).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND status = ?", oldID, domain.RefreshTokenStatusActive).
			Updates(map[string]any{"status": domain.RefreshTokenStatusRotated})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRotationConflict
		}
		return tx.Create(child).Error
	})
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "rotate", "success")
	case errors.Is(err, ErrRotationConflict):
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "rotate", "conflict")
	case errors.Is(err, ErrRefreshTokenNotFound):
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "rotate", "not_found")
	default:
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "rotate", "error")
	}
	return err
}

func (r *GormRefreshTokenRepository) RevokeFamily(familyID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("family_id = ? AND status <> ?", familyID, domain.RefreshTokenStatusRevoked).
		Updates(map[string]any{
			"status":         domain.RefreshTokenStatusRevoked,
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_family", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_family", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) RevokeByIdentity(identityID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("identity_id = ? AND status <> ?", identityID, domain.RefreshTokenStatusRevoked).
		Updates(map[string]any{
			"status":         domain.RefreshTokenStatusRevoked,
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_by_identity", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_by_identity", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) ListActiveByIdentity(identityID uint) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.Where("identity_id = ? AND status = ? AND expires_at > ?",
		identityID, domain.RefreshTokenStatusActive, time.Now()).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "list_active_by_identity", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "list_active_by_identity", "success")
	return tokens, nil
}

func (r *GormRefreshTokenRepository) CleanupExpired(before time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", before).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
