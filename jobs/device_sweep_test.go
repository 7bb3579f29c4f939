package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	calls int
	n     int64
	err   error
}

func (s *stubSweeper) Sweep(ctx context.Context) (int64, error) {
	s.calls++
	return s.n, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeviceSweepJobRunsSweep(t *testing.T) {
	sweeper := &stubSweeper{n: 3}
	job := NewDeviceSweepJob(sweeper, quietLogger())
	task, err := NewDeviceSweepTask("cron")
	require.NoError(t, err)
	require.Equal(t, TaskDeviceSweep, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, sweeper.calls)
}

func TestDeviceSweepJobReturnsSweepError(t *testing.T) {
	boom := errors.New("store down")
	job := NewDeviceSweepJob(&stubSweeper{err: boom}, quietLogger())
	err := job.Handle(context.Background(), asynq.NewTask(TaskDeviceSweep, nil))
	require.ErrorIs(t, err, boom)
}

func TestDeviceSweepJobRejectsBadPayload(t *testing.T) {
	sweeper := &stubSweeper{}
	job := NewDeviceSweepJob(sweeper, quietLogger())
	err := job.Handle(context.Background(), asynq.NewTask(TaskDeviceSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, sweeper.calls)
}

func TestDeviceSweepJobNotConfigured(t *testing.T) {
	var job *DeviceSweepJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskDeviceSweep, nil)))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, quietLogger()).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"failed":0}`, rec.Body.String())
}
