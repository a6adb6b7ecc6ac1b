package postgres

const (
	queryCreateMessage = `
		INSERT INTO messages (sender_id, content)
		VALUES ($1, $2)
		RETURNING id, created_at, is_read;
	`
	queryGetMessage = `
		SELECT m.id, m.sender_id, m.content, m.created_at, m.is_read,
		       COALESCE(NULLIF(u.display_name, ''), u.username, 'Unknown'), COALESCE(u.avatar_url, '')
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1;
	`
	queryExistsMessage = `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1);`
	queryMarkRead      = `UPDATE messages SET is_read = TRUE WHERE id = $1;`

	// история с курсорной пагинацией (created_at,id DESC)
	queryHistory = `
		SELECT m.id, m.sender_id, m.content, m.created_at, m.is_read,
		       COALESCE(NULLIF(u.display_name, ''), u.username, 'Unknown'), COALESCE(u.avatar_url, '')
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE (
		    $1::timestamptz IS NULL
		    OR m.created_at < $1
		    OR (m.created_at = $1 AND m.id < $2)
		)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3;
	`

	queryLockReactionKey = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0));`
	queryFindReaction    = `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3;
	`
	queryCreateReaction = `
		INSERT INTO reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		RETURNING id, created_at;
	`
	queryDeleteReaction = `DELETE FROM reactions WHERE id = $1;`
	queryGetReaction    = `
		SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at, COALESCE(u.username, 'Unknown User')
		FROM reactions r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.id = $1;
	`
	queryReactionsByMessage = `
		SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at, COALESCE(u.username, 'Unknown User')
		FROM reactions r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.message_id = $1
		ORDER BY r.id;
	`

	queryCreateAttachment = `
		INSERT INTO attachments (message_id, file_name, content_type, storage_token, size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at;
	`
	queryGetAttachment = `
		SELECT id, message_id, file_name, content_type, storage_token, size, uploaded_at
		FROM attachments
		WHERE id = $1;
	`
	queryAttachmentsByMessage = `
		SELECT id, message_id, file_name, content_type, storage_token, size, uploaded_at
		FROM attachments
		WHERE message_id = $1
		ORDER BY id;
	`

	queryGetUser = `
		SELECT id, username, display_name, avatar_url, is_online, last_active
		FROM users
		WHERE id = $1;
	`
	querySetOnline = `UPDATE users SET is_online = $2, last_active = $3 WHERE id = $1;`
)
