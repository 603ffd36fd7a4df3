package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// AppendTurnParams holds the columns for one conversation turn.
type AppendTurnParams struct {
	ID        string
	Username  string
	Room      string
	Role      string
	Text      string
	CreatedAt pgtype.Timestamptz
}

// AppendTurn appends a turn to the durable conversation transcript.
func (q *Queries) AppendTurn(ctx context.Context, arg AppendTurnParams) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO conversation_turns (id, username, room, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.Username, arg.Room, arg.Role, arg.Text, arg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// ListTurnsParams selects a transcript slice for one (user, room).
type ListTurnsParams struct {
	Username    string
	Room        string
	ResultLimit int
}

// ListTurnsRow is one persisted conversation turn.
type ListTurnsRow struct {
	ID        string
	Role      string
	Text      string
	CreatedAt pgtype.Timestamptz
}

// ListTurns returns the most recent turns for (user, room) in chronological
// order.
func (q *Queries) ListTurns(ctx context.Context, arg ListTurnsParams) ([]ListTurnsRow, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, role, text, created_at FROM (
			SELECT id, role, text, created_at
			FROM conversation_turns
			WHERE username = $1 AND room = $2
			ORDER BY created_at DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC`,
		arg.Username, arg.Room, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []ListTurnsRow
	for rows.Next() {
		var r ListTurnsRow
		if err := rows.Scan(&r.ID, &r.Role, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
