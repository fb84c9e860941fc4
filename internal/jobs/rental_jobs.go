package jobs

import (
	"context"

	"member-intranet/internal/logger"
)

// SendOverdueReminders emails borrowers of rentals past their end date
func (jr *JobRunner) SendOverdueReminders() {
	jr.runWithRecovery("SendOverdueReminders", func(ctx context.Context) error {
		sent, err := jr.services.Rental.SendOverdueReminders(ctx, jr.now())
		if err != nil {
			return err
		}
		logger.Info("Sent overdue reminders", "count", sent)
		return nil
	})
}
