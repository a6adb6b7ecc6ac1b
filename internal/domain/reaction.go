package domain

import "time"

type Reaction struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"-"`
	Emoji     string    `db:"emoji"`
	CreatedAt time.Time `db:"created_at"`
}

// ReactionKey — тройка (message, user, emoji); одновременно существует не более одной реакции на ключ.
type ReactionKey struct {
	MessageID int64
	UserID    int64
	Emoji     string
}

type OutcomeKind string

const (
	OutcomeAdded   OutcomeKind = "added"
	OutcomeRemoved OutcomeKind = "removed"
)

// ReactionOutcome is the result of a toggle. Reaction is set for both kinds;
// for a removal it describes the row that was deleted.
type ReactionOutcome struct {
	Kind     OutcomeKind
	Reaction Reaction
}
