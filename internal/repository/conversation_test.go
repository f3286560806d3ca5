package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func errRow(err error) pgx.Row {
	return fakeRow{scan: func(...any) error { return err }}
}

func conversationRow(conv *domain.Conversation) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = conv.ID
		*dest[1].(*uuid.UUID) = conv.UserA
		*dest[2].(*uuid.UUID) = conv.UserB
		*dest[3].(**uuid.UUID) = conv.LastMessageID
		*dest[4].(**time.Time) = conv.LastMessageAt
		*dest[5].(*int) = conv.UserAUnread
		*dest[6].(*int) = conv.UserBUnread
		*dest[7].(**time.Time) = conv.UserAClearedAt
		*dest[8].(**time.Time) = conv.UserBClearedAt
		*dest[9].(*time.Time) = conv.CreatedAt
		return nil
	}}
}

// fakeQuerier отдает заранее заготовленные строки по порядку запросов.
type fakeQuerier struct {
	rows    []pgx.Row
	execTag pgconn.CommandTag
	calls   int
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	row := q.rows[q.calls]
	q.calls++
	return row
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return q.execTag, nil
}

func canonicalConversation() *domain.Conversation {
	userA, userB := domain.CanonicalPair(uuid.New(), uuid.New())
	return &domain.Conversation{
		ID:        uuid.New(),
		UserA:     userA,
		UserB:     userB,
		CreatedAt: time.Now().UTC(),
	}
}

// Два участника инициируют диалог одновременно: проигравший INSERT
// ловит нарушение уникальности пары и перечитывает строку победителя.
func TestFindOrCreateUniqueViolationFallback(t *testing.T) {
	winner := canonicalConversation()
	q := &fakeQuerier{rows: []pgx.Row{
		errRow(pgx.ErrNoRows), // первый SELECT: строки еще нет
		errRow(&pgconn.PgError{Code: uniqueViolation}), // INSERT: победил конкурент
		conversationRow(winner),                        // перечитывание строки победителя
	}}
	repo := &conversationRepository{db: q, log: logger.New("error")}

	conv, err := repo.FindOrCreate(context.Background(), winner.UserB, winner.UserA)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, conv.ID)
	assert.Equal(t, winner.UserA, conv.UserA)
	assert.Equal(t, winner.UserB, conv.UserB)
	assert.Equal(t, 3, q.calls)
}

func TestFindOrCreateReturnsExistingRow(t *testing.T) {
	existing := canonicalConversation()
	q := &fakeQuerier{rows: []pgx.Row{conversationRow(existing)}}
	repo := &conversationRepository{db: q, log: logger.New("error")}

	conv, err := repo.FindOrCreate(context.Background(), existing.UserA, existing.UserB)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, conv.ID)
	assert.Equal(t, 1, q.calls, "no INSERT when the row already exists")
}

func TestFindOrCreatePropagatesOtherInsertErrors(t *testing.T) {
	q := &fakeQuerier{rows: []pgx.Row{
		errRow(pgx.ErrNoRows),
		errRow(&pgconn.PgError{Code: "23503"}), // не unique violation
	}}
	repo := &conversationRepository{db: q, log: logger.New("error")}

	_, err := repo.FindOrCreate(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23503", pgErr.Code)
	assert.Equal(t, 2, q.calls, "foreign key failure must not trigger a re-read")
}

func TestMarkReadUnknownConversation(t *testing.T) {
	q := &fakeQuerier{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := &conversationRepository{db: q, log: logger.New("error")}

	err := repo.MarkRead(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrConversationNotFound)
}
