package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
	"github.com/relayops/agent-runtime/internal/service"
)

type ServerLogic struct {
	svc     *service.Service
	archive domain.ResultArchive
}

func NewServerLogic(svc *service.Service, archive domain.ResultArchive) *ServerLogic {
	return &ServerLogic{
		svc:     svc,
		archive: archive,
	}
}

func (s *ServerLogic) SubmitTask(ctx context.Context, req domain.RouterRequestSubmitTask) (taskID string, err error) {
	priority := 5
	if req.Priority != nil {
		priority = *req.Priority
	}

	task := &domain.AgentTask{
		TaskID:         req.TaskID,
		AgentName:      req.AgentName,
		Prompt:         req.Prompt,
		Priority:       priority,
		Status:         domain.Pending,
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		MethodName:     req.MethodName,
		Delivery:       req.Delivery,
		Metadata:       req.Metadata,
		CreatedAtStamp: time.Now().UTC().Unix(),
	}

	if err := s.svc.SubmitTask(task); err != nil {
		if err == errval.ErrNotRunning {
			slog.Error("Task submission rejected, service is not running", "agent_name", req.AgentName)
			return "", err
		}

		slog.ErrorContext(ctx, "error occurred while calling service.SubmitTask", "error", err)
		return "", errval.ErrInternal
	}

	return task.TaskID, nil
}

func (s *ServerLogic) GetStatus() service.Status {
	return s.svc.GetStatus()
}

func (s *ServerLogic) GetResult(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	if s.archive == nil {
		return nil, errval.ErrNotFound
	}

	result, err := s.archive.GetResultByTaskID(ctx, taskID)
	if err != nil {
		if err == errval.ErrNotFound {
			slog.Info("result not found for the given task id", "task_id", taskID)
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling archive.GetResultByTaskID", "error", err)
		return nil, errval.ErrInternal
	}

	return result, nil
}

func (s *ServerLogic) GetRecentResults(ctx context.Context, limit int32) ([]*domain.TaskResult, error) {
	if s.archive == nil {
		return nil, errval.ErrNotFound
	}

	results, err := s.archive.GetRecentResults(ctx, limit)
	if err != nil {
		if err == errval.ErrNotFound {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling archive.GetRecentResults", "error", err)
		return nil, errval.ErrInternal
	}

	return results, nil
}
