package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/pkg/mailer"
)

// ScheduleRunOutcome describes one scheduled generation attempt sequence.
type ScheduleRunOutcome struct {
	ScheduleID  string
	PeriodLabel string
	Result      models.ScheduleRunResult
	Attempts    int
	Roster      *models.PaymentRoster
	Locked      bool
	Err         error
}

// NotificationService emails schedule operators about run results.
type NotificationService struct {
	sender mailer.Sender
	logger *zap.Logger
}

// NewNotificationService constructs the notifier. A nil sender discards mail.
func NewNotificationService(sender mailer.Sender, logger *zap.Logger) *NotificationService {
	if sender == nil {
		sender = mailer.NopSender{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, logger: logger}
}

// NotifyScheduleRun sends a result email when the schedule asks for one.
// Delivery failures are logged and never fail the run.
func (s *NotificationService) NotifyScheduleRun(ctx context.Context, schedule *models.RosterSchedule, outcome ScheduleRunOutcome) {
	if len(schedule.NotifyEmails) == 0 {
		return
	}
	switch outcome.Result {
	case models.ScheduleRunSuccess:
		if !schedule.NotifyOnSuccess {
			return
		}
	case models.ScheduleRunFailed:
		if !schedule.NotifyOnFailure {
			return
		}
	default:
		return
	}
	msg := BuildScheduleMessage(schedule, outcome)
	if err := s.sender.Send(msg); err != nil {
		s.logger.Warn("failed to send schedule notification",
			zap.String("schedule_id", schedule.ID),
			zap.Strings("to", msg.To),
			zap.Error(err),
		)
	}
}

// BuildScheduleMessage renders the plain-text notification for a run.
func BuildScheduleMessage(schedule *models.RosterSchedule, outcome ScheduleRunOutcome) mailer.Message {
	var body strings.Builder
	fmt.Fprintf(&body, "Schedule: %s (%s)\n", schedule.Name, schedule.ID)
	fmt.Fprintf(&body, "Period: %s\n", outcome.PeriodLabel)
	fmt.Fprintf(&body, "Result: %s after %d attempt(s)\n", outcome.Result, outcome.Attempts)
	if r := outcome.Roster; r != nil {
		fmt.Fprintf(&body, "Roster: %s\n", r.RosterCode)
		fmt.Fprintf(&body, "Qualified: %d\nDisqualified: %d\nTotal amount: %s\n", r.QualifiedCount, r.DisqualifiedCount, r.TotalAmount.StringFixed(2))
		if r.VerificationAPIFailures > 0 {
			fmt.Fprintf(&body, "Registry failures needing review: %d\n", r.VerificationAPIFailures)
		}
		if outcome.Locked {
			body.WriteString("The roster was locked automatically.\n")
		}
	}
	if outcome.Err != nil {
		fmt.Fprintf(&body, "Error: %v\n", outcome.Err)
	}
	subject := fmt.Sprintf("[Scholarship] %s %s for %s", schedule.Name, outcome.Result, outcome.PeriodLabel)
	return mailer.Message{
		To:      append([]string(nil), schedule.NotifyEmails...),
		Subject: subject,
		Body:    body.String(),
	}
}
