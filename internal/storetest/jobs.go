package storetest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// jobs and job logs
// ---------------------------------------------------------------------------

func (s *Store) InsertJob(_ context.Context, _ pgx.Tx, j *models.Job) error {
	defer s.lock()()
	for _, x := range s.st.jobs {
		if x.ID == j.ID {
			return repository.ErrDuplicate
		}
	}
	j.CreatedAt, j.UpdatedAt = s.Now(), s.Now()
	s.st.jobs = append(s.st.jobs, clone(j))
	return nil
}

func (s *Store) jobByID(id uuid.UUID) (*models.Job, error) {
	defer s.lock()()
	for _, j := range s.st.jobs {
		if j.ID == id {
			return clone(j), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	return s.jobByID(id)
}

func (s *Store) GetJobForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return s.jobByID(id)
}

func (s *Store) UpdateJob(_ context.Context, _ pgx.Tx, j *models.Job) error {
	if j.EscrowReleased.GreaterThan(j.EscrowAmount) {
		return fmt.Errorf("storetest: job %s releases %s of %s escrow", j.ID, j.EscrowReleased, j.EscrowAmount)
	}
	defer s.lock()()
	for i, x := range s.st.jobs {
		if x.ID == j.ID {
			j.UpdatedAt = s.Now()
			s.st.jobs[i] = clone(j)
			return nil
		}
	}
	return repository.ErrNotFound
}

// DeleteJob cascades to the job's logs, slots, assignments, applications and attendance.
func (s *Store) DeleteJob(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	defer s.lock()()
	n := len(s.st.jobs)
	s.st.jobs = slices.DeleteFunc(s.st.jobs, func(j *models.Job) bool { return j.ID == id })
	if len(s.st.jobs) == n {
		return repository.ErrNotFound
	}
	s.st.jobLogs = slices.DeleteFunc(s.st.jobLogs, func(l *models.JobLog) bool { return l.JobID == id })
	s.st.slots = slices.DeleteFunc(s.st.slots, func(x *models.SkillSlot) bool { return x.JobID == id })
	s.st.workerAssignments = slices.DeleteFunc(s.st.workerAssignments, func(a *models.WorkerAssignment) bool { return a.JobID == id })
	s.st.employeeAssignments = slices.DeleteFunc(s.st.employeeAssignments, func(a *models.EmployeeAssignment) bool { return a.JobID == id })
	s.st.applications = slices.DeleteFunc(s.st.applications, func(a *models.Application) bool { return a.JobID == id })
	s.st.attendance = slices.DeleteFunc(s.st.attendance, func(a *models.DailyAttendance) bool { return a.JobID == id })
	return nil
}

func (s *Store) jobsWhere(match func(*models.Job) bool) []*models.Job {
	defer s.lock()()
	var out []*models.Job
	for i := len(s.st.jobs) - 1; i >= 0; i-- {
		if match(s.st.jobs[i]) {
			out = append(out, clone(s.st.jobs[i]))
		}
	}
	return out
}

func (s *Store) ListJobsByClient(_ context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	return s.jobsWhere(func(j *models.Job) bool { return j.ClientID == clientID }), nil
}

func (s *Store) ListJobsByWorker(_ context.Context, workerID uuid.UUID) ([]*models.Job, error) {
	s.mu.Lock()
	teamJobs := map[uuid.UUID]bool{}
	for _, a := range s.st.workerAssignments {
		if a.WorkerID == workerID {
			teamJobs[a.JobID] = true
		}
	}
	s.mu.Unlock()
	return s.jobsWhere(func(j *models.Job) bool {
		if teamJobs[j.ID] {
			return true
		}
		return j.IsAssignedWorker(workerID) && (j.JobType == models.JobListing || j.InviteResponse == models.InviteAccepted)
	}), nil
}

func (s *Store) ListJobsByInvitee(_ context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	return s.jobsWhere(func(j *models.Job) bool {
		return j.JobType == models.JobInvite && (j.IsAssignedWorker(accountID) || j.IsAssignedAgency(accountID))
	}), nil
}

func (s *Store) ListJobsByStatus(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.jobsWhere(func(j *models.Job) bool { return j.Status == status }), nil
}

func (s *Store) FindInProgressJobForWorker(_ context.Context, _ pgx.Tx, workerID uuid.UUID) (*models.Job, error) {
	list := s.jobsWhere(func(j *models.Job) bool { return j.IsAssignedWorker(workerID) && j.Status == models.JobInProgress })
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (s *Store) ListInProgressDailyJobs(_ context.Context) ([]*models.Job, error) {
	return s.jobsWhere(func(j *models.Job) bool {
		return j.Status == models.JobInProgress && j.PaymentModel == models.PaymentDaily
	}), nil
}

func (s *Store) AppendJobLog(_ context.Context, _ pgx.Tx, l *models.JobLog) error {
	defer s.lock()()
	l.CreatedAt = s.Now()
	s.st.jobLogs = append(s.st.jobLogs, clone(l))
	return nil
}

func (s *Store) ListJobLogs(_ context.Context, jobID uuid.UUID) ([]*models.JobLog, error) {
	defer s.lock()()
	var out []*models.JobLog
	for _, l := range s.st.jobLogs {
		if l.JobID == jobID {
			out = append(out, clone(l))
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// slots and assignments
// ---------------------------------------------------------------------------

func (s *Store) InsertSlot(_ context.Context, _ pgx.Tx, x *models.SkillSlot) error {
	defer s.lock()()
	s.st.slots = append(s.st.slots, clone(x))
	return nil
}

func (s *Store) ListSlots(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.SkillSlot, error) {
	defer s.lock()()
	var out []*models.SkillSlot
	for _, x := range s.st.slots {
		if x.JobID == jobID {
			out = append(out, clone(x))
		}
	}
	return out, nil
}

func (s *Store) GetSlotForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.SkillSlot, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	defer s.lock()()
	for _, x := range s.st.slots {
		if x.ID == id {
			return clone(x), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateSlot(_ context.Context, _ pgx.Tx, x *models.SkillSlot) error {
	if x.WorkersFilled > x.WorkersNeeded {
		return fmt.Errorf("storetest: slot %s overfilled", x.ID)
	}
	defer s.lock()()
	for _, y := range s.st.slots {
		if y.ID == x.ID {
			y.WorkersFilled, y.Status = x.WorkersFilled, x.Status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) InsertWorkerAssignment(_ context.Context, _ pgx.Tx, a *models.WorkerAssignment) error {
	defer s.lock()()
	for _, x := range s.st.workerAssignments {
		if x.WorkerID == a.WorkerID && x.Status == models.AssignmentActive && a.Status == models.AssignmentActive {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt = s.Now()
	s.st.workerAssignments = append(s.st.workerAssignments, clone(a))
	return nil
}

func (s *Store) ListWorkerAssignments(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.WorkerAssignment, error) {
	defer s.lock()()
	var out []*models.WorkerAssignment
	for _, a := range s.st.workerAssignments {
		if a.JobID == jobID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) FindActiveAssignmentForWorker(_ context.Context, _ pgx.Tx, workerID uuid.UUID) (*models.WorkerAssignment, error) {
	defer s.lock()()
	for _, a := range s.st.workerAssignments {
		if a.WorkerID == workerID && a.Status == models.AssignmentActive {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateWorkerAssignment(_ context.Context, _ pgx.Tx, a *models.WorkerAssignment) error {
	defer s.lock()()
	for _, x := range s.st.workerAssignments {
		if x.ID == a.ID {
			x.Status, x.WorkerMarkedComplete, x.MarkedCompleteAt, x.Rating = a.Status, a.WorkerMarkedComplete, a.MarkedCompleteAt, a.Rating
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) InsertEmployeeAssignment(_ context.Context, _ pgx.Tx, a *models.EmployeeAssignment) error {
	defer s.lock()()
	for _, x := range s.st.employeeAssignments {
		if x.JobID == a.JobID && x.EmployeeID == a.EmployeeID {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt = s.Now()
	s.st.employeeAssignments = append(s.st.employeeAssignments, clone(a))
	return nil
}

func (s *Store) ListEmployeeAssignments(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.EmployeeAssignment, error) {
	defer s.lock()()
	var out []*models.EmployeeAssignment
	for _, a := range s.st.employeeAssignments {
		if a.JobID == jobID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) UpdateEmployeeAssignment(_ context.Context, _ pgx.Tx, a *models.EmployeeAssignment) error {
	defer s.lock()()
	for _, x := range s.st.employeeAssignments {
		if x.ID == a.ID {
			x.Status, x.Rating = a.Status, a.Rating
			return nil
		}
	}
	return repository.ErrNotFound
}

// ---------------------------------------------------------------------------
// applications
// ---------------------------------------------------------------------------

func open(a *models.Application) bool {
	return a.Status == models.ApplicationPending || a.Status == models.ApplicationAccepted
}

func (s *Store) InsertApplication(_ context.Context, _ pgx.Tx, a *models.Application) error {
	defer s.lock()()
	for _, x := range s.st.applications {
		if x.JobID == a.JobID && x.WorkerID == a.WorkerID && open(x) && open(a) {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt, a.UpdatedAt = s.Now(), s.Now()
	s.st.applications = append(s.st.applications, clone(a))
	return nil
}

func (s *Store) GetApplicationForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	defer s.lock()()
	for _, a := range s.st.applications {
		if a.ID == id {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateApplicationStatus(_ context.Context, _ pgx.Tx, a *models.Application) error {
	defer s.lock()()
	for _, x := range s.st.applications {
		if x.ID == a.ID {
			x.Status, x.UpdatedAt = a.Status, s.Now()
			a.UpdatedAt = x.UpdatedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) FindOpenApplication(_ context.Context, _ pgx.Tx, jobID, workerID uuid.UUID) (*models.Application, error) {
	defer s.lock()()
	for _, a := range s.st.applications {
		if a.JobID == jobID && a.WorkerID == workerID && open(a) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListApplicationsByJob(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.Application, error) {
	defer s.lock()()
	var out []*models.Application
	for _, a := range s.st.applications {
		if a.JobID == jobID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) ListApplicationsByWorker(_ context.Context, workerID uuid.UUID) ([]*models.Application, error) {
	defer s.lock()()
	var out []*models.Application
	for i := len(s.st.applications) - 1; i >= 0; i-- {
		if a := s.st.applications[i]; a.WorkerID == workerID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) rejectPending(match func(*models.Application) bool) []*models.Application {
	defer s.lock()()
	var out []*models.Application
	for _, a := range s.st.applications {
		if a.Status == models.ApplicationPending && match(a) {
			a.Status, a.UpdatedAt = models.ApplicationRejected, s.Now()
			out = append(out, clone(a))
		}
	}
	return out
}

func (s *Store) RejectPendingApplicationsForJob(_ context.Context, _ pgx.Tx, jobID, exceptID uuid.UUID) ([]*models.Application, error) {
	return s.rejectPending(func(a *models.Application) bool { return a.JobID == jobID && a.ID != exceptID }), nil
}

func (s *Store) RejectPendingApplicationsForWorker(_ context.Context, _ pgx.Tx, workerID, exceptJobID uuid.UUID) ([]*models.Application, error) {
	return s.rejectPending(func(a *models.Application) bool { return a.WorkerID == workerID && a.JobID != exceptJobID }), nil
}

// ---------------------------------------------------------------------------
// attendance
// ---------------------------------------------------------------------------

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Store) InsertAttendance(_ context.Context, _ pgx.Tx, a *models.DailyAttendance) error {
	defer s.lock()()
	for _, x := range s.st.attendance {
		if x.JobID == a.JobID && x.WorkerID == a.WorkerID && sameDate(x.Date, a.Date) {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt, a.UpdatedAt = s.Now(), s.Now()
	s.st.attendance = append(s.st.attendance, clone(a))
	return nil
}

func (s *Store) GetAttendance(_ context.Context, id uuid.UUID) (*models.DailyAttendance, error) {
	defer s.lock()()
	for _, a := range s.st.attendance {
		if a.ID == id {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetAttendanceForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.DailyAttendance, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	defer s.lock()()
	for _, a := range s.st.attendance {
		if a.ID == id {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetAttendanceForDayForUpdate(_ context.Context, tx pgx.Tx, jobID, workerID uuid.UUID, date time.Time) (*models.DailyAttendance, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	defer s.lock()()
	for _, a := range s.st.attendance {
		if a.JobID == jobID && a.WorkerID == workerID && sameDate(a.Date, date) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateAttendance(_ context.Context, _ pgx.Tx, a *models.DailyAttendance) error {
	defer s.lock()()
	for i, x := range s.st.attendance {
		if x.ID == a.ID {
			a.UpdatedAt = s.Now()
			s.st.attendance[i] = clone(a)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) ListAttendanceByJob(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.DailyAttendance, error) {
	defer s.lock()()
	var out []*models.DailyAttendance
	for _, a := range s.st.attendance {
		if a.JobID == jobID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) ListUnconfirmedAttendanceBefore(_ context.Context, cutoff time.Time) ([]*models.DailyAttendance, error) {
	defer s.lock()()
	var out []*models.DailyAttendance
	for _, a := range s.st.attendance {
		if !a.ClientConfirmed && a.TimeIn != nil && a.TimeIn.Before(cutoff) {
			out = append(out, clone(a))
		}
	}
	return out, nil
}
