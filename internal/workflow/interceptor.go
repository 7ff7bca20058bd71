package workflow

import (
	"context"
	"errors"

	sdkactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbbackup/internal/activity"
)

// ErrorTypingInterceptor gives every activity error a type. Partial backup
// failures become "BatchError" with the failed database names as details;
// anything else untyped is typed with the activity name.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{next: next}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := e.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}
	return result, typeError(sdkactivity.GetInfo(ctx).ActivityType.Name, err)
}

func typeError(activityName string, err error) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return err
	}
	var batch *activity.BatchError
	if errors.As(err, &batch) {
		failed := make([]string, 0, len(batch.Failures))
		for _, f := range batch.Failures {
			failed = append(failed, f.Database)
		}
		return temporal.NewApplicationErrorWithCause(err.Error(), "BatchError", err, failed)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), activityName, err)
}
