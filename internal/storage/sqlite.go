package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/cryptox"
	"github.com/dmitrijs2005/gophdirectory/internal/filex"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/storage/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

const (
	metaSealSalt  = "seal.salt"
	metaSealCheck = "seal.check"
	sealCheck     = "gophdirectory"
)

var ErrWrongSecret = errors.New("storage secret does not match")

type Options struct {
	// Domain scopes every record.
	Domain string
	// Secret enables at-rest sealing when non-empty.
	Secret string
	// Lifespan is applied to records read back. Zero means
	// models.DefaultLifespan.
	Lifespan time.Duration
	Logger   logging.Logger
}

// SQLiteStorage implements Storage on a SQLite database.
type SQLiteStorage struct {
	db       *sql.DB
	meta     *MetadataRepository
	domain   string
	lifespan time.Duration
	key      []byte
	logger   logging.Logger
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating when needed) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string, opts Options) (*SQLiteStorage, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s, err := New(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already migrated database.
func New(ctx context.Context, db *sql.DB, opts Options) (*SQLiteStorage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	lifespan := opts.Lifespan
	if lifespan <= 0 {
		lifespan = models.DefaultLifespan
	}

	s := &SQLiteStorage{
		db:       db,
		meta:     NewMetadataRepository(db),
		domain:   opts.Domain,
		lifespan: lifespan,
		logger:   logger,
	}

	if opts.Secret != "" {
		secret := []byte(opts.Secret)
		key, err := s.unlock(ctx, secret)
		cryptox.Wipe(secret)
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// unlock derives the sealing key, creating salt and check value on first use.
func (s *SQLiteStorage) unlock(ctx context.Context, secret []byte) ([]byte, error) {
	var key []byte

	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		meta := NewMetadataRepository(tx)

		salt, err := meta.Get(ctx, metaSealSalt)
		if err != nil {
			return err
		}

		if salt == nil {
			if salt, err = cryptox.NewSalt(); err != nil {
				return err
			}
			key = cryptox.DeriveKey(secret, salt)
			check, err := cryptox.Seal([]byte(sealCheck), key)
			if err != nil {
				return err
			}
			if err := meta.Set(ctx, metaSealSalt, salt); err != nil {
				return err
			}
			return meta.Set(ctx, metaSealCheck, check)
		}

		key = cryptox.DeriveKey(secret, salt)
		check, err := meta.Get(ctx, metaSealCheck)
		if err != nil {
			return err
		}
		if plain, err := cryptox.Open(check, key); err != nil || string(plain) != sealCheck {
			return ErrWrongSecret
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) encode(v any) ([]byte, bool, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if s.key == nil {
		return b, false, nil
	}
	sealed, err := cryptox.Seal(b, s.key)
	if err != nil {
		return nil, false, err
	}
	return sealed, true, nil
}

func (s *SQLiteStorage) decode(payload []byte, sealed bool, v any) error {
	if sealed {
		if s.key == nil {
			return ErrWrongSecret
		}
		plain, err := cryptox.Open(payload, s.key)
		if err != nil {
			return fmt.Errorf("open record: %w", err)
		}
		payload = plain
	}
	return decMode.Unmarshal(payload, v)
}

func (s *SQLiteStorage) ReadContact(ctx context.Context, id int64) (*models.Contact, error) {
	var payload []byte
	var sealed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, sealed FROM contact_records WHERE domain = ? AND id = ?`,
		s.domain, id).Scan(&payload, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contact %d: %w", id, err)
	}

	var r contactRecord
	if err := s.decode(payload, sealed, &r); err != nil {
		return nil, fmt.Errorf("failed to decode contact %d: %w", id, err)
	}
	return r.contact(s.lifespan), nil
}

func (s *SQLiteStorage) WriteContact(ctx context.Context, c *models.Contact) error {
	return s.writeContact(ctx, s.db, c)
}

func (s *SQLiteStorage) writeContact(ctx context.Context, db DBTX, c *models.Contact) error {
	payload, sealed, err := s.encode(newContactRecord(c))
	if err != nil {
		return fmt.Errorf("failed to encode contact %d: %w", c.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO contact_records (domain, id, last, sealed, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, id) DO UPDATE SET last = excluded.last,
			sealed = excluded.sealed,
			payload = excluded.payload
	`, s.domain, c.ID, toMillis(c.Last), sealed, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %d: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) ReadGroup(ctx context.Context, id int64) (*models.Group, error) {
	var payload []byte
	var sealed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, sealed FROM group_records WHERE domain = ? AND id = ?`,
		s.domain, id).Scan(&payload, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read group %d: %w", id, err)
	}

	var r groupRecord
	if err := s.decode(payload, sealed, &r); err != nil {
		return nil, fmt.Errorf("failed to decode group %d: %w", id, err)
	}
	return r.group(s.lifespan), nil
}

func (s *SQLiteStorage) WriteGroup(ctx context.Context, g *models.Group) error {
	return s.writeGroup(ctx, s.db, g)
}

func (s *SQLiteStorage) writeGroup(ctx context.Context, db DBTX, g *models.Group) error {
	payload, sealed, err := s.encode(newGroupRecord(g))
	if err != nil {
		return fmt.Errorf("failed to encode group %d: %w", g.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO group_records (domain, id, state, last_active, last, sealed, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, id) DO UPDATE SET state = excluded.state,
			last_active = excluded.last_active,
			last = excluded.last,
			sealed = excluded.sealed,
			payload = excluded.payload
	`, s.domain, g.ID, int(g.State), toMillis(g.LastActiveTime), toMillis(g.Last), sealed, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert group %d: %w", g.ID, err)
	}
	return nil
}

// WriteGroups stores groups and their owners in one transaction.
func (s *SQLiteStorage) WriteGroups(ctx context.Context, groups []*models.Group) error {
	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		for _, g := range groups {
			if err := s.writeGroup(ctx, tx, g); err != nil {
				return err
			}
			if g.Owner != nil {
				if err := s.writeContact(ctx, tx, g.Owner); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) ReadGroups(ctx context.Context, begin, end time.Time, states []models.GroupState) ([]*models.Group, error) {
	lo := toMillis(begin)
	hi := int64(math.MaxInt64)
	if !end.IsZero() {
		hi = end.UnixMilli()
	}

	query := `SELECT id, payload, sealed FROM group_records
		WHERE domain = ? AND last_active >= ? AND last_active < ?`
	args := []any{s.domain, lo, hi}

	if len(states) > 0 {
		query += ` AND state IN (?` + strings.Repeat(`, ?`, len(states)-1) + `)`
		for _, st := range states {
			args = append(args, int(st))
		}
	}
	query += ` ORDER BY last_active DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select groups: %w", err)
	}
	defer rows.Close()

	var result []*models.Group
	for rows.Next() {
		var id int64
		var payload []byte
		var sealed bool
		if err := rows.Scan(&id, &payload, &sealed); err != nil {
			return nil, err
		}

		var r groupRecord
		if err := s.decode(payload, sealed, &r); err != nil {
			// one unreadable row must not hide the rest
			s.logger.Warn(ctx, "skipping undecodable group record", "id", id, "error", err)
			continue
		}
		result = append(result, r.group(s.lifespan))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
