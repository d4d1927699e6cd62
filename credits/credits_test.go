package credits

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/krishkalaria12/snap-edit/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spendSQL = regexp.QuoteMeta(`UPDATE "profiles" SET "credits"=credits - $1`) + `.*` + regexp.QuoteMeta(`WHERE id = $`) + `.*` + regexp.QuoteMeta(`AND credits > 0`)

func TestGormUseCreditGranted(t *testing.T) {
	db, mock := dbtest.New(t)
	mock.ExpectExec(spendSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewGorm(db).UseCredit(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGormUseCreditDeniedAtZero(t *testing.T) {
	db, mock := dbtest.New(t)
	mock.ExpectExec(spendSQL).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewGorm(db).UseCredit(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormBalance(t *testing.T) {
	db, mock := dbtest.New(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id","credits" FROM "profiles" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "credits"}).AddRow("user-1", 4))

	n, err := NewGorm(db).Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMemoryGate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(map[string]int{"u": 1})

	ok, err := m.UseCredit(ctx, "u")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.UseCredit(ctx, "u")
	assert.False(t, ok)

	ok, _ = m.UseCredit(ctx, "nobody")
	assert.False(t, ok)

	m.Add("u", 2)
	n, _ := m.Balance(ctx, "u")
	assert.Equal(t, 2, n)
}
