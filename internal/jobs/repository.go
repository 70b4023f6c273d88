package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/models"
)

// TxBeginner starts the transaction every transition runs in.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo is the job store the state machine works against. repository.Store implements it.
type Repo interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)

	InsertJob(ctx context.Context, tx pgx.Tx, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateJob(ctx context.Context, tx pgx.Tx, j *models.Job) error
	DeleteJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	ListJobsByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
	ListJobsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Job, error)
	ListJobsByInvitee(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	AppendJobLog(ctx context.Context, tx pgx.Tx, l *models.JobLog) error
	ListJobLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLog, error)

	InsertSlot(ctx context.Context, tx pgx.Tx, s *models.SkillSlot) error
	ListSlots(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.SkillSlot, error)
	ListWorkerAssignments(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.WorkerAssignment, error)
	UpdateWorkerAssignment(ctx context.Context, tx pgx.Tx, a *models.WorkerAssignment) error
	ListEmployeeAssignments(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.EmployeeAssignment, error)
	UpdateEmployeeAssignment(ctx context.Context, tx pgx.Tx, a *models.EmployeeAssignment) error

	InsertApplication(ctx context.Context, tx pgx.Tx, a *models.Application) error
	GetApplicationForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error)
	UpdateApplicationStatus(ctx context.Context, tx pgx.Tx, a *models.Application) error
	ListApplicationsByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Application, error)
	ListApplicationsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Application, error)
	RejectPendingApplicationsForJob(ctx context.Context, tx pgx.Tx, jobID, exceptID uuid.UUID) ([]*models.Application, error)
}
