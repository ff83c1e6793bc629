package collaborator

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

func newMockWriter(t *testing.T, bufferSize int) (*PostgresWriter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewPostgresWriter(sqlxDB, bufferSize, time.Second), mock
}

func TestPostgresWriterFlushesAtBufferSizeAndUpserts(t *testing.T) {
	w, mock := newMockWriter(t, 2)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO bars")
	mock.ExpectExec("INSERT INTO bars").WithArgs(
		"BTC-USD", "volume", 100.0, 110.0, 90.0, 105.0, 5.0, 3, sqlmock.AnyArg(), sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO bars").WithArgs(
		"ETH-USD", "time", 10.0, 12.0, 9.0, 11.0, 2.0, 1, sqlmock.AnyArg(), sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	flushed := w.Write(domain.Bar{ProductID: "BTC-USD", Kind: domain.BarKindVolume, Open: 100, High: 110, Low: 90, Close: 105, Volume: 5, Ticks: 3, StartTime: now, EndTime: now})
	require.Nil(t, flushed)

	flushed = w.Write(domain.Bar{ProductID: "ETH-USD", Kind: domain.BarKindTime, Open: 10, High: 12, Low: 9, Close: 11, Volume: 2, Ticks: 1, StartTime: now, EndTime: now})
	require.Len(t, flushed, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriterFlushOnEmptyBufferIsNoop(t *testing.T) {
	w, mock := newMockWriter(t, 5)
	flushed := w.Flush()
	require.Nil(t, flushed)
	require.NoError(t, mock.ExpectationsWereMet())
}
