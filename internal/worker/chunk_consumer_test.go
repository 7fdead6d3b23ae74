package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"feedport/internal/worker"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessChunk(ctx context.Context, task worker.ChunkTask) (*worker.ChunkResult, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.ChunkResult), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) StartDue(ctx context.Context, now time.Time) error {
	return m.Called(ctx, now).Error(0)
}

func TestChunkConsumer_HandleMessage(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	task := worker.ChunkTask{JobID: "job-1", Offset: 100, Limit: 50, Epoch: 2}
	body, _ := json.Marshal(task)
	msg := &nsq.Message{Body: body}

	p.On("ProcessChunk", mock.Anything, mock.MatchedBy(func(got worker.ChunkTask) bool {
		return got.JobID == "job-1" && got.Offset == 100 && got.Epoch == 2
	})).Return(&worker.ChunkResult{Processed: 50}, nil)

	err := consumer.HandleMessage(msg)
	assert.NoError(t, err)
	p.AssertExpectations(t)
}

func TestChunkConsumer_PoisonPill(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	msg := &nsq.Message{Body: []byte("invalid json")}

	err := consumer.HandleMessage(msg)
	assert.NoError(t, err) // Should return nil (ack)
	p.AssertNotCalled(t, "ProcessChunk", mock.Anything, mock.Anything)
}

func TestChunkConsumer_EmptyBody(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	err := consumer.HandleMessage(&nsq.Message{})
	assert.NoError(t, err)
}

func TestChunkConsumer_ProcessorErrorRetries(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	body, _ := json.Marshal(worker.ChunkTask{JobID: "job-1"})
	p.On("ProcessChunk", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.Error(t, err) // NSQ requeues on error
}

func TestChunkConsumer_LockedRequeues(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	body, _ := json.Marshal(worker.ChunkTask{JobID: "job-1"})
	p.On("ProcessChunk", mock.Anything, mock.Anything).Return(&worker.ChunkResult{Locked: true}, nil)

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.Error(t, err)
}

func TestChunkConsumer_StoppedAcks(t *testing.T) {
	p := new(MockProcessor)
	consumer := worker.NewChunkConsumer(p)

	body, _ := json.Marshal(worker.ChunkTask{JobID: "job-1", Epoch: 1})
	p.On("ProcessChunk", mock.Anything, mock.Anything).Return(&worker.ChunkResult{Stopped: true}, nil)

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.NoError(t, err) // Stale triggers are dropped, not retried
}

func TestTickConsumer_StartsDueJobs(t *testing.T) {
	s := new(MockScheduler)
	consumer := worker.NewTickConsumer(s)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(worker.TickPayload{Now: at.Format(time.RFC3339)})

	s.On("StartDue", mock.Anything, at).Return(nil)

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.NoError(t, err)
	s.AssertExpectations(t)
}

func TestTickConsumer_PoisonPill(t *testing.T) {
	s := new(MockScheduler)
	consumer := worker.NewTickConsumer(s)

	err := consumer.HandleMessage(&nsq.Message{Body: []byte("{bad")})
	assert.NoError(t, err)
	s.AssertNotCalled(t, "StartDue", mock.Anything, mock.Anything)
}
