package claim

import "context"

// WorkflowOption configures a Workflow instance.
type WorkflowOption func(*Workflow)

// OperationLogger records events emitted by Workflow operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one workflow operation.
type OperationLog struct {
	Operation string
	OrderID   string
	VoucherID string
	Amount    Cents
	Channel   Channel
	State     State
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) WorkflowOption {
	return func(workflow *Workflow) {
		workflow.logger = logger
	}
}

func (workflow *Workflow) logOperation(ctx context.Context, entry OperationLog) {
	if workflow.logger == nil {
		return
	}
	entry.State = workflow.State()
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else {
		entry.Status = operationStatusOK
	}
	workflow.logger.LogOperation(ctx, entry)
}
