package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS docs (
	kind TEXT NOT NULL,
	key  TEXT NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (kind, key)
) WITHOUT ROWID;
`

const (
	kindRound     = "round"
	kindSelection = "selection"
	kindTeam      = "team"
	kindGroup     = "group"
	kindMatch     = "match"
	kindBackpack  = "backpack"
)

// SQLiteStore keeps each record as a compressed JSON document keyed by kind.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	codec  *docCodec
	path   string
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.PoolSize, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func NewSQLiteStore(path string, poolSize int, logger *zap.Logger) (*SQLiteStore, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	codec, err := newDocCodec()
	if err != nil {
		return nil, err
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		codec.close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{pool: pool, codec: codec, path: path, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("sqlite store opened",
		zap.String("path", path),
		zap.Int("pool_size", poolSize),
	)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	err := s.pool.Close()
	s.codec.close()
	if err != nil {
		return fmt.Errorf("close sqlite %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) read(conn *sqlite.Conn, kind, key string, v any) error {
	found := false
	err := sqlitex.Execute(conn, `SELECT body FROM docs WHERE kind = ? AND key = ?`, &sqlitex.ExecOptions{
		Args: []any{kind, key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			blob := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return s.codec.decode(blob, v)
		},
	})
	if err != nil {
		return fmt.Errorf("read %s %s: %w", kind, key, err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) write(conn *sqlite.Conn, kind, key string, v any) error {
	blob, err := s.codec.encode(v)
	if err != nil {
		return err
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO docs (kind, key, body) VALUES (?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET body = excluded.body`,
		&sqlitex.ExecOptions{Args: []any{kind, key, blob}},
	)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", kind, key, err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, kind, key string, v any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return s.read(conn, kind, key, v)
}

func (s *SQLiteStore) put(ctx context.Context, kind, key string, v any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return s.write(conn, kind, key, v)
}

func (s *SQLiteStore) ActiveSelections(ctx context.Context) ([]model.Selection, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	rounds := make(map[string]model.Round)
	err = s.scan(conn, kindRound, func(blob []byte) error {
		var r model.Round
		if err := s.codec.decode(blob, &r); err != nil {
			return err
		}
		rounds[r.ID] = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []model.Selection
	err = s.scan(conn, kindSelection, func(blob []byte) error {
		var sel model.Selection
		if err := s.codec.decode(blob, &sel); err != nil {
			return err
		}
		if eligible(sel, rounds) {
			out = append(out, sel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) scan(conn *sqlite.Conn, kind string, fn func(blob []byte) error) error {
	err := sqlitex.Execute(conn, `SELECT body FROM docs WHERE kind = ?`, &sqlitex.ExecOptions{
		Args: []any{kind},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return fn(blob)
		},
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) MatchData(ctx context.Context, userID, matchID string) (*model.MatchData, error) {
	var md model.MatchData
	if err := s.get(ctx, kindMatch, model.MatchKey(userID, matchID), &md); err != nil {
		return nil, err
	}
	return &md, nil
}

func (s *SQLiteStore) SaveMatchData(ctx context.Context, md *model.MatchData) error {
	return s.put(ctx, kindMatch, model.MatchKey(md.UserID, md.MatchID), md)
}

func (s *SQLiteStore) Group(ctx context.Context, tournamentID, userID string) (*model.Group, error) {
	var g model.Group
	if err := s.get(ctx, kindGroup, tournamentID+":"+userID, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLiteStore) Team(ctx context.Context, teamID string) (*model.Team, error) {
	var t model.Team
	if err := s.get(ctx, kindTeam, teamID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) AppendRosterPlayer(ctx context.Context, teamID string, p model.RosterPlayer) (added bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var t model.Team
	if err := s.read(conn, kindTeam, teamID, &t); err != nil {
		return false, err
	}
	if containsPlayer(t.Players, p.PlayerID) {
		return false, nil
	}
	t.Players = append(t.Players, p)
	if err := s.write(conn, kindTeam, teamID, &t); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Backpack(ctx context.Context, userID, matchDataID string) ([]model.BackpackItem, error) {
	var items []model.BackpackItem
	err := s.get(ctx, kindBackpack, userID+":"+matchDataID, &items)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return items, err
}

func (s *SQLiteStore) ReplaceBackpack(ctx context.Context, userID, matchDataID string, items []model.BackpackItem) error {
	return s.put(ctx, kindBackpack, userID+":"+matchDataID, items)
}

func (s *SQLiteStore) PutRound(ctx context.Context, r model.Round) error {
	return s.put(ctx, kindRound, r.ID, r)
}

func (s *SQLiteStore) PutSelection(ctx context.Context, sel model.Selection) error {
	return s.put(ctx, kindSelection, sel.ID, sel)
}

func (s *SQLiteStore) PutTeam(ctx context.Context, t *model.Team) error {
	return s.put(ctx, kindTeam, t.ID, t)
}

func (s *SQLiteStore) PutGroup(ctx context.Context, g *model.Group) error {
	return s.put(ctx, kindGroup, g.TournamentID+":"+g.UserID, g)
}
