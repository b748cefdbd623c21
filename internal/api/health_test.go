package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/pkg/core"
)

func newMockRepository(t *testing.T) (*docs.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return docs.NewRepository(db), mock
}

func TestDatabaseCheck_Healthy(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectPing()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	data, err := DatabaseCheck(repo).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), data["user_count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseCheck_PingFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectPing().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	_, err := DatabaseCheck(repo).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseCheck_QueryFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectPing()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnError(errors.New(`relation "users" does not exist`))

	_, err := DatabaseCheck(repo).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count users")
}

type stubJobs struct {
	counts map[core.State]int64
	err    error
}

func (s stubJobs) GetJob(context.Context, string) (*core.Job, error) { return nil, core.ErrJobNotFound }

func (s stubJobs) Stats(context.Context) (map[core.State]int64, error) { return s.counts, s.err }

func TestJobsCheck(t *testing.T) {
	data, err := JobsCheck(stubJobs{counts: map[core.State]int64{core.StateFailed: 4}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), data["failed"])
	assert.Equal(t, int64(0), data["succeeded"])

	_, err = JobsCheck(stubJobs{err: errors.New("locked")}).Run(context.Background())
	assert.Error(t, err)
}

func TestHealth_DatabaseDownReportsUnhealthy(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	srv := NewServer(nil, nil, nil, nil,
		Logger(quiet),
		WithHealthCheck(DatabaseCheck(repo)),
		WithHealthCheck(JobsCheck(stubJobs{})),
	)
	report := srv.Health(context.Background())
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "unhealthy", report.Checks["database"].Status)
	assert.Equal(t, "healthy", report.Checks["jobs"].Status)
}

func TestHealth_ChecksRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	// Each check returns only once both have started.
	barrier := func(name string) Check {
		return Check{Name: name, Run: func(ctx context.Context) (map[string]any, error) {
			arrived.Done()
			select {
			case <-all:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}}
	}
	srv := NewServer(nil, nil, nil, nil,
		Logger(quiet),
		HealthTimeout(2*time.Second),
		WithHealthCheck(barrier("first")),
		WithHealthCheck(barrier("second")),
	)

	report := srv.Health(context.Background())
	assert.Equal(t, "healthy", report.Status)
	assert.Len(t, report.Checks, 2)
}
