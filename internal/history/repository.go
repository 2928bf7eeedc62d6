// Package history archives finished matches to Postgres. The archive is
// optional: the coordinator works without it and treats write failures as
// log-only events, never as protocol faults.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/gproductions/cardsagainst/internal/matchdoc"
	"github.com/gproductions/cardsagainst/internal/scoring"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	r := &Repository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS match_results (
	    match_name  TEXT NOT NULL,
	    player_id   TEXT NOT NULL,
	    language    TEXT NOT NULL,
	    rounds      INT NOT NULL,
	    final_score INT NOT NULL,
	    placement   INT NOT NULL,
	    reward      DOUBLE PRECISION NOT NULL,
	    ended_at    TIMESTAMPTZ NOT NULL,
	    PRIMARY KEY (match_name, player_id)
	  )`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts this player's final standing for one finished match.
// Each client writes only its own row, so concurrent finishes never clash.
func (r *Repository) SaveResult(ctx context.Context, m *matchdoc.Match, uid string, reward float64) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}

	q := `INSERT INTO match_results (
	    match_name, player_id, language, rounds,
	    final_score, placement, reward, ended_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8
	  ) ON CONFLICT (match_name, player_id) DO UPDATE SET
	    language=EXCLUDED.language,
	    rounds=EXCLUDED.rounds,
	    final_score=EXCLUDED.final_score,
	    placement=EXCLUDED.placement,
	    reward=EXCLUDED.reward,
	    ended_at=EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, q,
		m.Name, uid, m.Language, m.Rounds,
		m.Points[uid], scoring.Placement(m.Points, uid), reward, time.Now(),
	)
	return err
}
