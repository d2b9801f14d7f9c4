package jobs

import (
	"context"
	"fmt"
	"time"
)

// RegisterExamples populates the registry with the built-in jobs that the
// job API exposes out of the box.
func RegisterExamples(r *Registry) {
	r.Register("jobs.example_jobs:send_notification_email", SendNotificationEmail)
	r.Register("jobs.example_jobs:cleanup_old_data", CleanupOldData)
	r.Register("jobs.example_jobs:generate_report", GenerateReport)
	r.Register("jobs.example_jobs:health_check", HealthCheck)
}

// SendNotificationEmail pretends to send an email to a user. args[0] is the
// user id, args[1] the message.
func SendNotificationEmail(ctx context.Context, args []any, _ map[string]any) error {
	if len(args) < 2 {
		return fmt.Errorf("send_notification_email requires user_id and message arguments")
	}
	userID := fmt.Sprint(args[0])
	message := fmt.Sprint(args[1])

	capture := CaptureFromContext(ctx)
	if capture != nil {
		capture.Printf("Email sent to user %s: %s", userID, message)
	}
	Logger(ctx).Info().Str("user_id", userID).Msg("notification email sent")
	return nil
}

// CleanupOldData pretends to purge rows older than kwargs["days"] (default 30).
func CleanupOldData(ctx context.Context, _ []any, kwargs map[string]any) error {
	days := 30
	if v, ok := kwargs["days"].(float64); ok && v > 0 {
		days = int(v)
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	Logger(ctx).Info().
		Int("days", days).
		Time("cutoff", cutoff).
		Msg("cleanup completed")
	return nil
}

// GenerateReport pretends to build a report named by args[0].
func GenerateReport(ctx context.Context, args []any, _ map[string]any) error {
	name := "daily"
	if len(args) > 0 {
		name = fmt.Sprint(args[0])
	}
	if capture := CaptureFromContext(ctx); capture != nil {
		capture.Printf("Report %q generated", name)
	}
	return nil
}

// HealthCheck emits a heartbeat log line.
func HealthCheck(ctx context.Context, _ []any, _ map[string]any) error {
	Logger(ctx).Info().Msg("health check ok")
	return nil
}
