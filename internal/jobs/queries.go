package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := s.Repo.GetJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return j, err
}

// ListFor returns the jobs an actor is involved in under its current profile: posted jobs for a
// client, hired jobs for a worker, invites for an agency.
func (s *Service) ListFor(ctx context.Context, actor models.Actor) ([]*models.Job, error) {
	switch actor.Profile {
	case models.ProfileClient:
		return s.Repo.ListJobsByClient(ctx, actor.AccountID)
	case models.ProfileWorker:
		return s.Repo.ListJobsByWorker(ctx, actor.AccountID)
	case models.ProfileAgency:
		return s.Repo.ListJobsByInvitee(ctx, actor.AccountID)
	}
	return nil, apperr.Forbidden("no job list for profile %s", actor.Profile)
}

func (s *Service) Invites(ctx context.Context, actor models.Actor) ([]*models.Job, error) {
	return s.Repo.ListJobsByInvitee(ctx, actor.AccountID)
}

func (s *Service) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.Repo.ListJobsByStatus(ctx, status)
}

// Applications lists a job's applications. Only the job's client may see them.
func (s *Service) Applications(ctx context.Context, actor models.Actor, jobID uuid.UUID) ([]*models.Application, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireClient(j, actor); err != nil {
		return nil, err
	}
	return s.Repo.ListApplicationsByJob(ctx, nil, j.ID)
}

func (s *Service) MyApplications(ctx context.Context, actor models.Actor) ([]*models.Application, error) {
	if actor.Profile != models.ProfileWorker {
		return nil, apperr.Forbidden("only workers have applications")
	}
	return s.Repo.ListApplicationsByWorker(ctx, actor.AccountID)
}

func (s *Service) Slots(ctx context.Context, jobID uuid.UUID) ([]*models.SkillSlot, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.Repo.ListSlots(ctx, nil, jobID)
}

func (s *Service) Logs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLog, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.Repo.ListJobLogs(ctx, jobID)
}
