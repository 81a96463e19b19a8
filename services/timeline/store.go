package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mavuno/crypto"
)

const (
	MaxContentLength = 2_000
	MaxImages        = 8
	DefaultPageSize  = 20
	MaxPageSize      = 100
)

var (
	ErrPostNotFound   = errors.New("timeline: post not found")
	ErrInvalidPost    = errors.New("timeline: invalid post")
	ErrInvalidAccount = errors.New("timeline: account required")
)

// Filter narrows a timeline listing. Results are newest first.
type Filter struct {
	Account string
	Type    PostType
	Limit   int
	Offset  int
}

// Store persists timeline posts and likes.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use postgres; anything else is a sqlite path
// or URI.
func Open(dsn string) (*Store, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return NewStore(db, nil)
}

// OpenDB opens a gorm handle on dsn: postgres for postgres:// DSNs, sqlite
// otherwise.
func OpenDB(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("timeline: dsn required")
	}
	var dialector gorm.Dialector
	if IsPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("timeline: open database: %w", err)
	}
	return db, nil
}

// IsPostgresDSN reports whether dsn selects the postgres driver.
func IsPostgresDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// NewStore wraps an open database and migrates the schema.
func NewStore(db *gorm.DB, now func() time.Time) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("timeline: database required")
	}
	if now == nil {
		now = time.Now
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("timeline: migrate: %w", err)
	}
	return &Store{db: db, now: now}, nil
}

// DB exposes the underlying handle so other services can share the database.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateUpdate publishes a progress update authored by account.
func (s *Store) CreateUpdate(ctx context.Context, account crypto.Address, content string, images []string, video string) (*Post, error) {
	if account.IsZero() {
		return nil, ErrInvalidAccount
	}
	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content must be 1-%d characters", ErrInvalidPost, MaxContentLength)
	}
	cleaned := make([]string, 0, len(images))
	for _, image := range images {
		if trimmed := strings.TrimSpace(image); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) > MaxImages {
		return nil, fmt.Errorf("%w: at most %d images", ErrInvalidPost, MaxImages)
	}
	post := &Post{
		ID:        uuid.New(),
		Account:   account.String(),
		Type:      PostUpdate,
		Content:   content,
		Images:    cleaned,
		Video:     strings.TrimSpace(video),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// AppendActivity stores generated activity posts in one transaction.
func (s *Store) AppendActivity(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	now := s.now().UTC()
	for i := range posts {
		if posts[i].ID == uuid.Nil {
			posts[i].ID = uuid.New()
		}
		if posts[i].CreatedAt.IsZero() {
			posts[i].CreatedAt = now
		}
		posts[i].Type = PostActivity
	}
	return s.db.WithContext(ctx).Create(&posts).Error
}

func (s *Store) List(ctx context.Context, filter Filter) ([]Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := s.db.WithContext(ctx).Model(&Post{})
	if filter.Account != "" {
		query = query.Where("account = ?", filter.Account)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	var posts []Post
	err := query.Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&posts).Error
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	var post Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// Like records account's like on a post. Liking twice has no further effect.
func (s *Store) Like(ctx context.Context, id uuid.UUID, account crypto.Address) (*Post, error) {
	if account.IsZero() {
		return nil, ErrInvalidAccount
	}
	var post Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		like := Like{PostID: id, Account: account.String(), CreatedAt: s.now().UTC()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&Post{}).Where("id = ?", id).
			UpdateColumn("likes", gorm.Expr("likes + ?", 1)).Error; err != nil {
			return err
		}
		post.Likes++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}
