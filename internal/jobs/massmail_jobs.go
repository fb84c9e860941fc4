package jobs

import (
	"context"

	"member-intranet/internal/logger"
)

// ResumeMassMailJobs sends the next batch of every paused mass mail that is due
func (jr *JobRunner) ResumeMassMailJobs() {
	jr.runWithRecovery("ResumeMassMailJobs", func(ctx context.Context) error {
		processed, err := jr.services.MassMail.ResumeDue(ctx, jr.now())
		if err != nil {
			return err
		}
		if processed > 0 {
			logger.Info("Resumed mass mail jobs", "count", processed)
		}
		return nil
	})
}
