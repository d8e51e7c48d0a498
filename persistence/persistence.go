// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Persistence stores sync checkpoints and discovered addresses of the
// accounts run by the bundled runner.
type Persistence struct {
	db  *sqlx.DB
	now func() time.Time
	l   *logrus.Logger
}

func NewPersistence(datasource string) (*Persistence, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithField("file", datasource).Info("Connected")

	migrationSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       "migrations",
	}

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrationSource, migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db:  db,
		now: time.Now,
		l:   l,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

func (p *Persistence) Checkpoints(account string) ([]*domain.Checkpoint, error) {
	dbFolders := []struct {
		Account    string
		Protocol   string
		Name       string
		LastSynced int64 `db:"last_synced"`
		Messages   int
	}{}

	err := p.db.Select(
		&dbFolders,
		`SELECT account, protocol, name, last_synced, messages FROM folders WHERE account = ? ORDER BY protocol, name`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	checkpoints := []*domain.Checkpoint{}
	for _, f := range dbFolders {
		checkpoints = append(
			checkpoints,
			&domain.Checkpoint{
				Account:    f.Account,
				Protocol:   domain.Protocol(f.Protocol),
				Folder:     f.Name,
				LastSynced: time.Unix(f.LastSynced, 0).UTC(),
				Messages:   f.Messages,
			},
		)
	}

	p.l.WithFields(logrus.Fields{"Account": account, "Count": len(checkpoints)}).Debug("Found checkpoints")

	return checkpoints, nil
}

func (p *Persistence) SaveCheckpoints(checkpoints []domain.Checkpoint) error {
	tx, err := p.db.BeginTxx(context.TODO(), nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO folders (account, protocol, name, last_synced, messages) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return txEnd(tx, fmt.Errorf("could not prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, c := range checkpoints {
		_, err := stmt.Exec(c.Account, string(c.Protocol), c.Folder, c.LastSynced.Unix(), c.Messages)
		if err != nil {
			return txEnd(tx, fmt.Errorf("could not save checkpoint: %w", err))
		}
	}

	err = txEnd(tx, nil)
	if err == nil {
		p.l.WithField("Count", len(checkpoints)).Info("Persisted checkpoints")
	}
	return err
}

func (p *Persistence) SaveAddresses(account string, addresses []string) (int, error) {
	tx, err := p.db.BeginTxx(context.TODO(), nil)
	if err != nil {
		return 0, fmt.Errorf("could not start transaction: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO addresses (account, address, first_seen) VALUES (?, ?, ?)",
	)
	if err != nil {
		return 0, txEnd(tx, fmt.Errorf("could not prepare statement: %w", err))
	}
	defer stmt.Close()

	now := p.now().Unix()
	added := 0
	for _, a := range addresses {
		result, err := stmt.Exec(account, a, now)
		if err != nil {
			return 0, txEnd(tx, fmt.Errorf("could not save address: %w", err))
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, txEnd(tx, fmt.Errorf("could not get num of affected rows: %w", err))
		}
		added += int(affected)
	}

	if err := txEnd(tx, nil); err != nil {
		return 0, err
	}

	p.l.WithFields(logrus.Fields{"Account": account, "New": added, "Seen": len(addresses)}).Info("Persisted addresses")
	return added, nil
}

// Addresses returns the stored addresses of an account, sorted.
func (p *Persistence) Addresses(account string) ([]string, error) {
	addresses := []string{}
	err := p.db.Select(
		&addresses,
		`SELECT address FROM addresses WHERE account = ? ORDER BY address`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	return addresses, nil
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			errStr := err.Error()
			return fmt.Errorf("%s, could not rollback tx: %w", errStr, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}
