package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/getplacekit/placekit/provider"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector
// for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	dialects   = map[string]DialectorOpener{}
)

// Register adds a database dialect to the registry.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	dialects[name] = opener
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// Open connects to the named database, migrates the profile schema, and
// returns a ready Store.
func Open(dbType, dsn string) (*Store, error) {
	registryMu.RLock()
	opener, ok := dialects[dbType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("profile: unknown database type %q", dbType)
	}

	db, err := gorm.Open(opener(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("profile: open %s: %w", dbType, err)
	}

	store := NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// Store persists profiles with GORM.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Profile{})
}

// DB exposes the underlying handle for health checks and migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Sync merges a session into the persisted profile record. A missing record
// is created from session claims; an existing one picks up fresher non-empty
// claims. The returned profile reflects what is stored.
func (s *Store) Sync(ctx context.Context, sess provider.Session) (*Profile, error) {
	var prof Profile
	err := s.db.WithContext(ctx).First(&prof, "subject_id = ?", sess.SubjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		prof = Profile{
			SubjectID:   sess.SubjectID,
			DisplayName: DisplayNameFor(sess),
			AvatarURL:   sess.AvatarURL,
		}
		if err := s.db.WithContext(ctx).Create(&prof).Error; err != nil {
			return nil, fmt.Errorf("profile: create %s: %w", sess.SubjectID, err)
		}
		return &prof, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: lookup %s: %w", sess.SubjectID, err)
	}

	changed := false
	if sess.Name != "" && prof.DisplayName == "" {
		prof.DisplayName = sess.Name
		changed = true
	}
	if sess.AvatarURL != "" && prof.AvatarURL != sess.AvatarURL {
		prof.AvatarURL = sess.AvatarURL
		changed = true
	}
	if changed {
		if err := s.db.WithContext(ctx).Save(&prof).Error; err != nil {
			return nil, fmt.Errorf("profile: update %s: %w", sess.SubjectID, err)
		}
	}
	return &prof, nil
}

// Get returns the stored profile for the subject.
func (s *Store) Get(ctx context.Context, subjectID string) (*Profile, error) {
	var prof Profile
	if err := s.db.WithContext(ctx).First(&prof, "subject_id = ?", subjectID).Error; err != nil {
		return nil, fmt.Errorf("profile: lookup %s: %w", subjectID, err)
	}
	return &prof, nil
}

// Update persists user-initiated profile edits.
func (s *Store) Update(ctx context.Context, prof *Profile) error {
	if err := s.db.WithContext(ctx).Save(prof).Error; err != nil {
		return fmt.Errorf("profile: save %s: %w", prof.SubjectID, err)
	}
	return nil
}
