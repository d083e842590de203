package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/smmhub-backend/internal/recharge"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
)

const defaultReconcileAfter = 10 * time.Minute

type RechargeReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler rechargeReconciler
	// OlderThan leaves fresh recharges to the notify callback.
	OlderThan time.Duration
}

type rechargeReconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration) (*recharge.ReconcileResult, error)
}

func NewRechargeReconcileJob(params RechargeReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("recharge reconciler required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultReconcileAfter
	}
	return &rechargeReconcileJob{
		logg:      params.Logger,
		svc:       params.Reconciler,
		olderThan: olderThan,
	}, nil
}

type rechargeReconcileJob struct {
	logg      *logger.Logger
	svc       rechargeReconciler
	olderThan time.Duration
}

func (j *rechargeReconcileJob) Name() string { return "recharge-reconcile" }

// Run fails when any single recharge could not be checked so the failure
// shows up in the job metrics; the rest of the batch is still processed.
func (j *rechargeReconcileJob) Run(ctx context.Context) error {
	result, err := j.svc.Reconcile(ctx, j.olderThan)
	if err != nil {
		return fmt.Errorf("recharge reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":   result.Checked,
		"completed": result.Completed,
		"expired":   result.Expired,
		"errors":    result.Errors,
	})
	j.logg.Info(logCtx, "recharge reconcile complete")
	if result.Errors > 0 {
		return fmt.Errorf("recharge reconcile: %d of %d recharges failed", result.Errors, result.Checked)
	}
	return nil
}
