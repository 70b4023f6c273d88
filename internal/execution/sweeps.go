package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/iayos/backend/internal/attendance"
)

// ReleaseEarningsArgs runs the payment buffer sweep.
type ReleaseEarningsArgs struct{}

func (ReleaseEarningsArgs) Kind() string { return "release_earnings" }

// InsertOpts keeps at most one sweep queued at a time.
func (ReleaseEarningsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute}}
}

// Releaser moves due pending earnings into wallets. buffer.Service implements it.
type Releaser interface {
	ReleaseDuePending(ctx context.Context, now time.Time) (int, error)
}

type ReleaseEarningsWorker struct {
	river.WorkerDefaults[ReleaseEarningsArgs]
	releaser Releaser
	logger   *slog.Logger
	now      func() time.Time
}

func NewReleaseEarningsWorker(r Releaser, logger *slog.Logger) *ReleaseEarningsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseEarningsWorker{releaser: r, logger: logger, now: time.Now}
}

func (w *ReleaseEarningsWorker) Work(ctx context.Context, _ *river.Job[ReleaseEarningsArgs]) error {
	n, err := w.releaser.ReleaseDuePending(ctx, w.now())
	if err != nil {
		return fmt.Errorf("release due earnings: %w", err)
	}
	if n > 0 {
		w.logger.Info("pending earnings released", "count", n)
	}
	return nil
}

// CloseAttendanceArgs runs the abandoned attendance sweep.
type CloseAttendanceArgs struct{}

func (CloseAttendanceArgs) Kind() string { return "close_attendance" }

func (CloseAttendanceArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute}}
}

// AttendanceCloser marks missed days. attendance.Service implements it.
type AttendanceCloser interface {
	CloseAbandonedAttendance(ctx context.Context, now time.Time) (*attendance.SweepResult, error)
}

type CloseAttendanceWorker struct {
	river.WorkerDefaults[CloseAttendanceArgs]
	closer AttendanceCloser
	logger *slog.Logger
	now    func() time.Time
}

func NewCloseAttendanceWorker(c AttendanceCloser, logger *slog.Logger) *CloseAttendanceWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloseAttendanceWorker{closer: c, logger: logger, now: time.Now}
}

func (w *CloseAttendanceWorker) Work(ctx context.Context, _ *river.Job[CloseAttendanceArgs]) error {
	res, err := w.closer.CloseAbandonedAttendance(ctx, w.now())
	if err != nil {
		return fmt.Errorf("close abandoned attendance: %w", err)
	}
	if res.Absent > 0 || len(res.Overdue) > 0 {
		w.logger.Info("attendance sweep", "absent", res.Absent, "overdue", len(res.Overdue))
	}
	return nil
}

// PeriodicJobs schedules both sweeps. They also run once at start-up to catch up after downtime.
func PeriodicJobs(releaseEvery, attendanceEvery time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(releaseEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ReleaseEarningsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(attendanceEvery),
			func() (river.JobArgs, *river.InsertOpts) { return CloseAttendanceArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
