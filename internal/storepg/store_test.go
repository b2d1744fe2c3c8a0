package storepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletop-vtt/server/internal/room"
)

func TestStore_LoadRoom_MissFallsThroughToPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	state := room.NewRoomState("r1")
	raw, _ := json.Marshal(state)
	mock.ExpectQuery(`SELECT state_json FROM rooms WHERE room_id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(raw))

	s := New(db, nil)
	got, found, err := s.LoadRoom(context.Background(), "r1")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "r1", got.RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadRoom_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT state_json FROM rooms WHERE room_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s := New(db, nil)
	_, found, err := s.LoadRoom(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SaveRoom_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	state := room.NewRoomState("r1")
	mock.ExpectExec(`INSERT INTO rooms`).
		WithArgs("r1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db, nil)
	err = s.SaveRoom(context.Background(), state)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IsMember_TrueForOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("r1", "owner1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	s := New(db, nil)
	ok, err := s.IsMember(context.Background(), "owner1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}
