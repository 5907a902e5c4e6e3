package database

import (
	"context"
	"database/sql"

	"mobidoc/pkg/types"
)

// AppendMessage persists a message. The autoincrement seq column records
// insertion order for ties on created_at.
func (m *Manager) AppendMessage(ctx context.Context, msg *types.Message) error {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, consultation_id, from_user_id, to_user_id, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ConsultationID, msg.FromUserID, nullable(msg.ToUserID), msg.Text, msg.CreatedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return types.StoreError("append message", err)
	}
	return nil
}

// ListMessages returns a consultation's messages oldest first.
func (m *Manager) ListMessages(ctx context.Context, consultationID string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, consultation_id, from_user_id, to_user_id, text, created_at
		FROM messages
		WHERE consultation_id = ?
		ORDER BY created_at ASC, seq ASC`, consultationID)
	if err != nil {
		return nil, types.StoreError("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*types.Message{}
	for rows.Next() {
		var msg types.Message
		var to sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConsultationID, &msg.FromUserID, &to, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, types.StoreError("scan message", err)
		}
		msg.ToUserID = to.String
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StoreError("list messages", err)
	}
	return messages, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
