package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Task is the row of a task snapshot.
type Task struct {
	ID        string    `gorm:"primarykey;size:26"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index"`

	Status      string   `gorm:"index;size:16;not null;default:''"`
	Description string   `gorm:"type:text;not null"`
	Genre       string   `gorm:"not null;default:''"`
	Subgenres   []string `gorm:"type:text;serializer:json"`

	Track      *music.Track  `gorm:"type:text;serializer:json"`
	Alternates []music.Track `gorm:"type:text;serializer:json"`
	ErrorKind  string        `gorm:"not null;default:''"`
	Error      string        `gorm:"type:text"`

	Owner string `gorm:"index;size:64;not null;default:''"`
}

func taskRow(t *music.Task, owner string) *Task {
	return &Task{
		Owner:       owner,
		ID:          t.ID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Status:      string(t.Status),
		Description: t.Request.Description,
		Genre:       t.Request.Genre,
		Subgenres:   t.Request.Subgenres,
		Track:       t.Track,
		Alternates:  t.Alternates,
		ErrorKind:   t.ErrorKind,
		Error:       t.Error,
	}
}

func (r *Task) task() *music.Task {
	return &music.Task{
		ID: r.ID,
		Request: music.Request{
			Description: r.Description,
			Genre:       r.Genre,
			Subgenres:   r.Subgenres,
		},
		Status:     music.Status(r.Status),
		Track:      r.Track,
		Alternates: r.Alternates,
		ErrorKind:  r.ErrorKind,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type ormStore struct {
	owner  string
	open   gorm.Dialector
	db     *gorm.DB
	logger gormlogger.Interface
	log    *zap.Logger
}

func newORM(dbType, dbConn string, opts *Options) (*ormStore, error) {
	var open gorm.Dialector
	switch dbType {
	case "postgres":
		open = postgres.Open(dbConn)
	case "mysql":
		open = mysql.Open(dbConn)
	case "sqlite":
		if dbConn == "" {
			dbConn = "trackgen.db"
		}
		open = sqlite.Open(dbConn)
	default:
		return nil, fmt.Errorf("storage: unknown db type: %s", dbType)
	}
	l := gormlogger.Default.LogMode(gormlogger.Silent)
	if opts.Debug {
		l = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	return &ormStore{
		owner:  opts.Owner,
		open:   open,
		logger: l,
		log:    logger.OrNop(opts.Logger),
	}, nil
}

func (s *ormStore) Start(ctx context.Context) error {
	// Launch the database connection in a goroutine so we can timeout if it
	// takes too long.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	errC := make(chan error, 1)
	go func() {
		db, err := gorm.Open(s.open, &gorm.Config{
			Logger:  s.logger,
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			errC <- fmt.Errorf("storage: failed to open database: %w", err)
			return
		}
		s.db = db
		errC <- nil
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("storage: timed out opening database: %w", ctx.Err())
		}
		return ctx.Err()
	case err := <-errC:
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ormStore) Stop() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: failed to get database: %w", err)
	}
	return sqlDB.Close()
}

func (s *ormStore) Create(ctx context.Context, req music.Request) (*music.Task, error) {
	t := music.NewTask(newID(), req, time.Now().UTC())
	if err := s.db.WithContext(ctx).Create(taskRow(t, s.owner)).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to create task %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *ormStore) Get(ctx context.Context, id string) (*music.Task, error) {
	var v Task
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get task %s: %w", id, err)
	}
	return v.task(), nil
}

func (s *ormStore) Replace(ctx context.Context, id string, t *music.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Task
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		if err := q.First(&v, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("storage: failed to get task %s: %w", id, err)
		}
		n, err := next(id, v.task(), t)
		if err != nil {
			return err
		}
		if err := tx.Save(taskRow(n, v.Owner)).Error; err != nil {
			return fmt.Errorf("storage: failed to set task %s: %w", id, err)
		}
		return nil
	})
}

func (s *ormStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{string(music.Completed), string(music.Failed)}, before.UTC()).
		Delete(&Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("storage: failed to sweep tasks: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *ormStore) Interrupt(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("status = ? AND owner = ?", string(music.Pending), s.owner).
		Updates(map[string]any{
			"status":     string(music.Failed),
			"error_kind": string(classify.Internal),
			"error":      InterruptedMessage,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("storage: failed to interrupt pending tasks: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *ormStore) Migrate(ctx context.Context) error {
	init := !s.db.Migrator().HasTable(&Task{})

	// Custom migrations
	if err := s.customMigrate(init); err != nil {
		return err
	}

	// Auto migrations
	if err := s.db.AutoMigrate(&Task{}); err != nil {
		return fmt.Errorf("storage: failed to migrate database: %w", err)
	}
	return nil
}

func (s *ormStore) customMigrate(init bool) error {
	lastVersion := 1

	if !s.db.Migrator().HasTable(&Migration{}) {
		if err := s.db.Migrator().CreateTable(&Migration{}); err != nil {
			return fmt.Errorf("storage: failed to create table migrations: %w", err)
		}
		var version int
		if init {
			version = lastVersion
		}
		if err := s.db.Save(&Migration{ID: newID(), Version: version}).Error; err != nil {
			return fmt.Errorf("storage: failed to save migration version: %w", err)
		}
		if init {
			return nil
		}
	}

	// Get the current migration version
	var migration Migration
	if err := s.db.First(&migration).Error; err != nil {
		return fmt.Errorf("storage: failed to get migration version: %w", err)
	}

	for i := migration.Version + 1; i <= lastVersion; i++ {
		switch i {
		case 1:
			s.log.Info("storage: migration 1: clamp updated_at to created_at")
			if err := s.db.Model(&Task{}).
				Where("updated_at < created_at").
				Update("updated_at", gorm.Expr("created_at")).Error; err != nil {
				return fmt.Errorf("storage: migration %d: %w", i, err)
			}
		}
		migration.Version = i
		if err := s.db.Save(&migration).Error; err != nil {
			return fmt.Errorf("storage: failed to save migration version: %w", err)
		}
	}
	return nil
}
