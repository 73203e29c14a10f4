package repo

import (
	"DriveVault/model"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound means no record matches both the id and the owner.
	ErrRecordNotFound = gorm.ErrRecordNotFound
	// ErrDuplicateKey means the storage key (or id) is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
)

// likeEscape is the LIKE escape character; '!' needs no quoting in either
// MySQL or SQLite string literals.
const likeEscape = "!"

var likeReplacer = strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")

// FileRecordStore persists FileRecord rows. Every read and write is scoped
// by owner so a foreign record looks exactly like a missing one.
type FileRecordStore struct {
	db *gorm.DB
}

// NewFileRecordStore wraps a gorm handle.
func NewFileRecordStore(db *gorm.DB) *FileRecordStore {
	return &FileRecordStore{db: db}
}

// Create inserts a record.
func (s *FileRecordStore) Create(ctx context.Context, record *model.FileRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

// FindOwned returns the record with id if owner owns it.
func (s *FileRecordStore) FindOwned(ctx context.Context, ownerID, id string) (*model.FileRecord, error) {
	var record model.FileRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByOwner returns every record of owner, newest first.
func (s *FileRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	records := make([]model.FileRecord, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

// SearchByOwner returns owner's records whose name contains term, ignoring case.
func (s *FileRecordStore) SearchByOwner(ctx context.Context, ownerID, term string) ([]model.FileRecord, error) {
	needle := strings.ToLower(term)

	var candidates []model.FileRecord
	var err error
	if isASCII(needle) {
		pattern := "%" + likeReplacer.Replace(needle) + "%"
		err = s.db.WithContext(ctx).
			Where("owner_id = ?", ownerID).
			Where("LOWER(name) LIKE ? ESCAPE '"+likeEscape+"'", pattern).
			Order("created_at DESC, id DESC").
			Find(&candidates).Error
	} else {
		// sqlite LOWER and LIKE fold ASCII only
		candidates, err = s.ListByOwner(ctx, ownerID)
	}
	if err != nil {
		return nil, err
	}

	// collations may fold accents too; keep only true substring matches
	records := make([]model.FileRecord, 0, len(candidates))
	for _, record := range candidates {
		if strings.Contains(strings.ToLower(record.Name), needle) {
			records = append(records, record)
		}
	}
	return records, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// UpdateName sets name and updated_at on an owned record and returns the fresh row.
func (s *FileRecordStore) UpdateName(ctx context.Context, ownerID, id, name string, at time.Time) (*model.FileRecord, error) {
	res := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]interface{}{
			"name":       name,
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.FindOwned(ctx, ownerID, id)
}

// DeleteOwned removes an owned record. Zero affected rows is not an error,
// so a retried delete stays idempotent.
func (s *FileRecordStore) DeleteOwned(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&model.FileRecord{}).Error
}

// ReferencesKey reports whether any record points at storageKey.
func (s *FileRecordStore) ReferencesKey(ctx context.Context, storageKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("storage_key = ?", storageKey).
		Count(&count).Error
	return count > 0, err
}
