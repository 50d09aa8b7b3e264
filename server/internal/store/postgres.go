package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

// alertRecord is the gorm model for one persisted alert.
type alertRecord struct {
	ID        string `gorm:"primaryKey"`
	Klass     string `gorm:"index;not null"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (alertRecord) TableName() string { return "nasalert_alerts" }

// Postgres stores alerts in PostgreSQL through gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects with dsn and migrates the alerts table.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres needs a dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: connect postgres")
	}
	if err := db.WithContext(ctx).AutoMigrate(&alertRecord{}); err != nil {
		return nil, errors.Wrap(err, "store: migrate postgres")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) List(ctx context.Context) ([]*alerts.Alert, error) {
	var recs []alertRecord
	if err := p.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "store: query alerts")
	}
	out := make([]*alerts.Alert, 0, len(recs))
	for _, r := range recs {
		a, err := decode([]byte(r.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *Postgres) Put(ctx context.Context, a *alerts.Alert) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	rec := alertRecord{ID: a.ID, Klass: a.Klass, Data: string(data)}
	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return errors.Wrapf(err, "store: put alert %s", a.ID)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	err := p.db.WithContext(ctx).Delete(&alertRecord{}, "id = ?", id).Error
	return errors.Wrapf(err, "store: delete alert %s", id)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
