package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/models"
)

func TestVerificationTaskRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewVerificationTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_verification_tasks")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.BatchVerificationTask{RosterID: "roster-1", Total: 4, CreatedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), task))
	assert.Equal(t, models.VerificationTaskPending, task.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_verification_tasks WHERE id = $1")).
		WithArgs(task.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "roster_id", "status", "total", "processed", "verified", "needs_review",
			"failed", "results", "error_message", "created_by", "created_at", "started_at", "finished_at"}).
			AddRow(task.ID, "roster-1", "processing", 4, 2, 1, 1, 0,
				`[{"item_id":"item-1","student_id":"stu-1","previous":"verified","current":"needs_review"}]`,
				nil, "admin-1", time.Now(), time.Now(), nil))

	found, err := repo.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, found.Progress())
	require.Len(t, found.Results, 1)
	assert.Equal(t, models.VerificationNeedsReview, found.Results[0].Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationTaskRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewVerificationTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_verification_tasks SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.BatchVerificationTask{ID: "missing", Status: models.VerificationTaskCancelled})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
