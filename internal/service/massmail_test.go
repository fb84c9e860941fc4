package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"member-intranet/internal/config"
	"member-intranet/internal/distlock"
	"member-intranet/internal/domain"
	"member-intranet/internal/mailer"
	"member-intranet/internal/repository/memory"
)

func recipients(n int) []domain.MassMailRecipient {
	out := make([]domain.MassMailRecipient, n)
	for i := range out {
		out[i] = domain.MassMailRecipient{
			Email:     fmt.Sprintf("member%03d@example.com", i),
			FirstName: fmt.Sprintf("M%d", i),
		}
	}
	return out
}

func assertCounts(t *testing.T, f *massMailFixture, job *domain.MassMailJob) {
	t.Helper()
	var sent, failed, pending int32
	for _, r := range f.store.Recipients(job.ID) {
		switch r.Status {
		case domain.RecipientStatusSent:
			sent++
		case domain.RecipientStatusFailed:
			failed++
		default:
			pending++
		}
	}
	assert.Equal(t, sent, job.SentCount)
	assert.Equal(t, failed, job.FailedCount)
	assert.Equal(t, pending, job.PendingCount())
	assert.Equal(t, job.TotalRecipients, job.SentCount+job.FailedCount+job.PendingCount())
}

func TestMassMailService_FourHundredFiftyInBatchesOfTwoHundred(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture()

	res, err := f.svc.Send(ctx, board, SendMassMailInput{
		Subject:      "Spring newsletter",
		BodyTemplate: "<p>{{ salutation }},</p>",
		Recipients:   recipients(450),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, 200, res.Sent)
	assert.Equal(t, domain.MassMailStatusPaused, res.Job.Status)
	assert.Equal(t, int32(250), res.Job.PendingCount())
	require.NotNil(t, res.Job.NextRunAt)
	assert.Equal(t, fixedNow.Add(time.Hour), *res.Job.NextRunAt)
	assertCounts(t, f, res.Job)

	// First batch takes the lowest recipient ids.
	for i, r := range f.store.Recipients(res.Job.ID) {
		if i < 200 {
			assert.Equal(t, domain.RecipientStatusSent, r.Status)
		} else {
			assert.Equal(t, domain.RecipientStatusPending, r.Status)
		}
	}

	res, err = f.svc.Resume(ctx, board, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Sent)
	assert.Equal(t, int32(50), res.Job.PendingCount())
	assert.Equal(t, domain.MassMailStatusPaused, res.Job.Status)
	assertCounts(t, f, res.Job)

	res, err = f.svc.Resume(ctx, board, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Sent)
	assert.Equal(t, domain.MassMailStatusCompleted, res.Job.Status)
	assert.Nil(t, res.Job.NextRunAt)
	assertCounts(t, f, res.Job)

	res, err = f.svc.Resume(ctx, board, res.Job.ID)
	require.NoError(t, err, "resuming a completed job is a no-op")
	assert.Zero(t, res.Sent)
	assert.Equal(t, int32(450), res.Job.SentCount)
	assert.Len(t, f.sender.messages(), 450, "nobody is mailed twice")
}

func TestMassMailService_SmallSendHasNoJob(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture("bounce@example.com")

	in := SendMassMailInput{Subject: "Hi {{ first_name }}", BodyTemplate: "body", Recipients: recipients(199)}
	in.Recipients = append(in.Recipients,
		domain.MassMailRecipient{Email: "bounce@example.com"},
		domain.MassMailRecipient{Email: "MEMBER000@example.com"}, // duplicate of the first
	)

	res, err := f.svc.Send(ctx, board, in)
	require.NoError(t, err)
	assert.Nil(t, res.Job)
	assert.Equal(t, 199, res.Sent)
	assert.Equal(t, 1, res.Failed)

	_, total, err := f.store.MassMailRepository.ListJobs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, "Hi M0", f.sender.to("member000@example.com")[0].Subject)
}

func TestMassMailService_FailuresAreRecordedPerRecipient(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture("member001@example.com")

	res, err := f.svc.Send(ctx, board, SendMassMailInput{Subject: "s", BodyTemplate: "b", Recipients: recipients(201)})
	require.NoError(t, err)
	assert.Equal(t, 199, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assertCounts(t, f, res.Job)

	rcpts := f.store.Recipients(res.Job.ID)
	assert.Equal(t, domain.RecipientStatusFailed, rcpts[1].Status)
	assert.Contains(t, rcpts[1].ErrorMessage, "mailbox unavailable")
	require.NotNil(t, rcpts[1].ProcessedAt)
}

func TestMassMailService_Personalization(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture()
	eventID := f.store.AddEvent(domain.Event{
		Title:            "Summer Gala",
		StartTime:        time.Date(2024, 7, 4, 19, 30, 0, 0, time.UTC),
		Location:         "Club House",
		RegistrationLink: "https://club.example/gala",
	})
	missing := int32(9999)

	body := "{{ salutation }}|{{ event_title }}|{{ event_date }}|{{ event_time }}|{{ event_location }}|{{ event_link }}"
	_, err := f.svc.Send(ctx, board, SendMassMailInput{
		Subject:      "{{ event_title }} for {{ name }}",
		BodyTemplate: body,
		EventID:      &eventID,
		Recipients: []domain.MassMailRecipient{
			{Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"},
			{Email: "anon@example.com"},
		},
	})
	require.NoError(t, err)

	ann := f.sender.to("ann@example.com")[0]
	assert.Equal(t, "Summer Gala for Ann Lee", ann.Subject)
	assert.Equal(t, "Dear Ann Lee|Summer Gala|July 4, 2024|19:30|Club House|https://club.example/gala", ann.HTMLBody)
	assert.Equal(t, "Dear member|Summer Gala|July 4, 2024|19:30|Club House|https://club.example/gala",
		f.sender.to("anon@example.com")[0].HTMLBody)

	_, err = f.svc.Send(ctx, board, SendMassMailInput{
		Subject: "x", BodyTemplate: "[{{ event_title }}]", EventID: &missing,
		Recipients: []domain.MassMailRecipient{{Email: "bob@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "[]", f.sender.to("bob@example.com")[0].HTMLBody, "missing events leave placeholders empty")
}

func TestMassMailService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture()

	var pErr *domain.PermissionError
	_, err := f.svc.Send(ctx, member(3), SendMassMailInput{Subject: "s", BodyTemplate: "b", Recipients: recipients(1)})
	assert.ErrorAs(t, err, &pErr)
	_, err = f.svc.Resume(ctx, member(3), 1)
	assert.ErrorAs(t, err, &pErr)
	_, _, err = f.svc.List(ctx, member(3), 1, 10)
	assert.ErrorAs(t, err, &pErr)

	cases := map[string]SendMassMailInput{
		"subject":    {BodyTemplate: "b", Recipients: recipients(1)},
		"body":       {Subject: "s", BodyTemplate: "{% if x %}never closed", Recipients: recipients(1)},
		"recipients": {Subject: "s", BodyTemplate: "b", Recipients: []domain.MassMailRecipient{{Email: "not-an-email"}}},
	}
	for field, in := range cases {
		_, err := f.svc.Send(ctx, board, in)
		var vErr *domain.ValidationError
		if assert.ErrorAs(t, err, &vErr, field) {
			assert.Equal(t, field, vErr.Field)
		}
	}
	assert.Empty(t, f.sender.messages())

	var nfErr *domain.NotFoundError
	_, err = f.svc.Get(ctx, board, 777)
	assert.ErrorAs(t, err, &nfErr)
	_, err = f.svc.Resume(ctx, board, 777)
	assert.ErrorAs(t, err, &nfErr)
}

func TestMassMailService_BusyJobIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture()

	res, err := f.svc.Send(ctx, board, SendMassMailInput{Subject: "s", BodyTemplate: "b", Recipients: recipients(300)})
	require.NoError(t, err)

	other := f.locks.NewLock(fmt.Sprintf("massmail:job:%d", res.Job.ID))
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Resume(ctx, board, res.Job.ID)
	assert.ErrorIs(t, err, domain.ErrJobBusy)

	f.clock = fixedNow.Add(2 * time.Hour)
	processed, err := f.svc.ResumeDue(ctx, f.clock)
	require.NoError(t, err)
	assert.Zero(t, processed)

	require.NoError(t, other.Release(ctx))
	job, err := f.svc.Get(ctx, board, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(100), job.PendingCount(), "busy triggers send nothing")
}

func TestMassMailService_ResumeDue(t *testing.T) {
	ctx := context.Background()
	f := newMassMailFixture()

	first, err := f.svc.Send(ctx, board, SendMassMailInput{Subject: "a", BodyTemplate: "b", Recipients: recipients(250)})
	require.NoError(t, err)

	f.clock = fixedNow.Add(30 * time.Minute)
	second, err := f.svc.Send(ctx, board, SendMassMailInput{Subject: "c", BodyTemplate: "d", Recipients: recipients(210)})
	require.NoError(t, err)

	processed, err := f.svc.ResumeDue(ctx, fixedNow.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, processed, "nothing is due yet")

	f.clock = fixedNow.Add(61 * time.Minute)
	processed, err = f.svc.ResumeDue(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	job, err := f.svc.Get(ctx, board, first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MassMailStatusCompleted, job.Status)

	job, err = f.svc.Get(ctx, board, second.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MassMailStatusPaused, job.Status)
	assert.Equal(t, int32(10), job.PendingCount())

	jobs, total, err := f.svc.List(ctx, board, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), total)
	assert.Len(t, jobs, 2)
}

type mockMassMailRepo struct {
	mock.Mock
}

func (m *mockMassMailRepo) CreateJobWithRecipients(ctx context.Context, job *domain.MassMailJob, rcpts []domain.MassMailRecipient) error {
	return m.Called(ctx, job, rcpts).Error(0)
}

func (m *mockMassMailRepo) GetJob(ctx context.Context, id int32) (*domain.MassMailJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.MassMailJob)
	return job, args.Error(1)
}

func (m *mockMassMailRepo) ListJobs(ctx context.Context, limit, offset int32) ([]domain.MassMailJob, int32, error) {
	args := m.Called(ctx, limit, offset)
	jobs, _ := args.Get(0).([]domain.MassMailJob)
	return jobs, args.Get(1).(int32), args.Error(2)
}

func (m *mockMassMailRepo) ListPendingRecipients(ctx context.Context, jobID int32, limit int) ([]domain.MassMailRecipient, error) {
	args := m.Called(ctx, jobID, limit)
	rcpts, _ := args.Get(0).([]domain.MassMailRecipient)
	return rcpts, args.Error(1)
}

func (m *mockMassMailRepo) ClaimRecipient(ctx context.Context, jobID, recipientID int32, until, now time.Time) (bool, error) {
	args := m.Called(ctx, jobID, recipientID, until, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockMassMailRepo) MarkRecipient(ctx context.Context, jobID, recipientID int32, status domain.RecipientStatus, errMsg string, at time.Time) (bool, error) {
	args := m.Called(ctx, jobID, recipientID, status, errMsg, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockMassMailRepo) FinishBatch(ctx context.Context, jobID int32, status domain.MassMailStatus, nextRunAt *time.Time, at time.Time) error {
	return m.Called(ctx, jobID, status, nextRunAt, at).Error(0)
}

func (m *mockMassMailRepo) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.MassMailJob, error) {
	args := m.Called(ctx, now, limit)
	jobs, _ := args.Get(0).([]domain.MassMailJob)
	return jobs, args.Error(1)
}

func TestMassMailService_CreateFailureSendsNothing(t *testing.T) {
	ctx := context.Background()
	repo := new(mockMassMailRepo)
	repo.On("CreateJobWithRecipients", ctx, mock.Anything, mock.Anything).
		Return(errors.New("pq: duplicate key value violates unique constraint"))

	sender := newRecordingSender()
	svc := NewMassMailService(repo, nil, sender, distlock.NewLocalFactory(), config.MassMailConfig{BatchSize: 200})

	_, err := svc.Send(ctx, board, SendMassMailInput{Subject: "s", BodyTemplate: "b", Recipients: recipients(201)})
	require.Error(t, err)
	assert.Equal(t, errQueueMassMail, err)
	assert.NotContains(t, err.Error(), "pq:")
	assert.Empty(t, sender.messages())
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "ListPendingRecipients", mock.Anything, mock.Anything, mock.Anything)
}

func TestMassMailService_RecipientAlreadyProcessedIsNotCounted(t *testing.T) {
	ctx := context.Background()
	repo := new(mockMassMailRepo)
	job := &domain.MassMailJob{ID: 4, Subject: "s", BodyTemplate: "b", Status: domain.MassMailStatusPaused, TotalRecipients: 2}
	pending := []domain.MassMailRecipient{{ID: 10, JobID: 4, Email: "a@example.com"}, {ID: 11, JobID: 4, Email: "b@example.com"}}

	repo.On("GetJob", ctx, int32(4)).Return(job, nil)
	repo.On("ListPendingRecipients", ctx, int32(4), 200).Return(pending, nil).Once()
	repo.On("ClaimRecipient", ctx, int32(4), mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	repo.On("MarkRecipient", ctx, int32(4), int32(10), domain.RecipientStatusSent, "", mock.Anything).Return(true, nil)
	repo.On("MarkRecipient", ctx, int32(4), int32(11), domain.RecipientStatusSent, "", mock.Anything).Return(false, nil)
	repo.On("ListPendingRecipients", ctx, int32(4), 1).Return(nil, nil).Once()
	repo.On("FinishBatch", ctx, int32(4), domain.MassMailStatusCompleted, (*time.Time)(nil), mock.Anything).Return(nil)

	svc := NewMassMailService(repo, nil, newRecordingSender(), distlock.NewLocalFactory(), config.MassMailConfig{BatchSize: 200})
	res, err := svc.Resume(ctx, board, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	repo.AssertExpectations(t)
}

func TestMassMailService_LeasedRecipientIsSkipped(t *testing.T) {
	ctx := context.Background()
	repo := new(mockMassMailRepo)
	job := &domain.MassMailJob{ID: 5, Subject: "s", BodyTemplate: "b", Status: domain.MassMailStatusPaused, TotalRecipients: 2}
	pending := []domain.MassMailRecipient{{ID: 20, JobID: 5, Email: "a@example.com"}, {ID: 21, JobID: 5, Email: "b@example.com"}}

	repo.On("GetJob", ctx, int32(5)).Return(job, nil)
	repo.On("ListPendingRecipients", ctx, int32(5), 200).Return(pending, nil).Once()
	repo.On("ClaimRecipient", ctx, int32(5), int32(20), mock.Anything, mock.Anything).Return(false, nil)
	repo.On("ClaimRecipient", ctx, int32(5), int32(21), mock.Anything, mock.Anything).Return(true, nil)
	repo.On("MarkRecipient", ctx, int32(5), int32(21), domain.RecipientStatusSent, "", mock.Anything).Return(true, nil)
	repo.On("ListPendingRecipients", ctx, int32(5), 1).Return(pending[:1], nil).Once()
	repo.On("FinishBatch", ctx, int32(5), domain.MassMailStatusPaused, mock.Anything, mock.Anything).Return(nil)

	sender := newRecordingSender()
	svc := NewMassMailService(repo, nil, sender, distlock.NewLocalFactory(), config.MassMailConfig{BatchSize: 200})
	res, err := svc.Resume(ctx, board, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Empty(t, sender.to("a@example.com"))
	assert.Len(t, sender.to("b@example.com"), 1)
	repo.AssertExpectations(t)
}

// slowSender lets the first delivery outlive the Redis lock TTL and start a
// second runner in the middle of it.
type slowSender struct {
	*recordingSender
	duringFn func()
	mu       sync.Mutex
	started  bool
	perAddr  map[string]int
}

func (s *slowSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	s.perAddr[msg.To]++
	first := !s.started
	s.started = true
	s.mu.Unlock()
	if first {
		s.duringFn()
	}
	return s.recordingSender.Send(ctx, msg)
}

func TestMassMailService_ExpiredLockDoesNotResend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := memory.NewStore()
	sender := &slowSender{recordingSender: newRecordingSender(), perAddr: map[string]int{}}
	svc := NewMassMailService(store.MassMailRepository, store.EventRepository, sender,
		distlock.NewRedisFactory(client, 10*time.Second), config.MassMailConfig{
			BatchSize:          200,
			ResumeDelayMinutes: 60,
			LockTTLSeconds:     10,
			DueJobsPerRun:      10,
		})

	var resumed int
	var resumeErr error
	sender.duringFn = func() {
		mr.FastForward(11 * time.Second)
		resumed, resumeErr = svc.ResumeDue(ctx, time.Now().UTC().Add(time.Minute))
	}

	res, err := svc.Send(ctx, board, SendMassMailInput{Subject: "s", BodyTemplate: "b", Recipients: recipients(450)})
	assert.ErrorIs(t, err, domain.ErrJobLockLost)
	require.NotNil(t, res)
	require.NotNil(t, res.Job)
	assert.Equal(t, 1, res.Sent, "the first runner stops once its lock is gone")

	require.NoError(t, resumeErr)
	assert.Equal(t, 1, resumed)

	for addr, n := range sender.perAddr {
		assert.Equal(t, 1, n, "%s mailed more than once", addr)
	}
	assert.Len(t, sender.perAddr, 200)

	job, err := store.MassMailRepository.GetJob(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(200), job.SentCount)
	assert.Equal(t, int32(250), job.PendingCount())
	assert.Equal(t, domain.MassMailStatusPaused, job.Status)
	assert.Equal(t, res.Job.SentCount, job.SentCount, "partial result carries fresh counters")
}
