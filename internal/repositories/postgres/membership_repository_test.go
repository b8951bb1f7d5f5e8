package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMember_Absent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMembershipRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM team_members")).
		WithArgs("p1", "ghost", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	member, err := repo.GetMember(context.Background(), "p1", "ghost", "t1")
	require.NoError(t, err)
	assert.Nil(t, member)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMember_WithGrants(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMembershipRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM team_members")).
		WithArgs("p1", "u1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM team_member_direct_permissions")).
		WithArgs("p1", "u1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_db_id"}).
			AddRow("db-admin").
			AddRow("db-read"))

	member, err := repo.GetMember(context.Background(), "p1", "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, "u1", member.UserID)
	assert.Equal(t, []string{"db-admin", "db-read"}, member.DirectPermissionDBIDs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMember_NoGrants(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMembershipRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM team_members")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM team_member_direct_permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"permission_db_id"}))

	member, err := repo.GetMember(context.Background(), "p1", "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, member, "empty grant list is still a member")
	assert.Empty(t, member.DirectPermissionDBIDs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGrant(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMembershipRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO team_member_direct_permissions")).
		WithArgs("p1", "u1", "t1", "db-admin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateGrant(context.Background(), "p1", "u1", "t1", "db-admin"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGrant_Ungranted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMembershipRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM team_member_direct_permissions")).
		WithArgs("p1", "u1", "t1", "db-admin").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Revoking something not granted is a no-op, not an error.
	require.NoError(t, repo.DeleteGrant(context.Background(), "p1", "u1", "t1", "db-admin"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
