package authgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const deliveryWarning = "email could not be delivered; request a new one"

type message struct {
	kind    string
	subject string
	body    string
}

func verificationMessage(cfg MailConfig, account Account, code string, ttlMinutes int) message {
	return message{
		kind:    "email_verification",
		subject: fmt.Sprintf("%s: verify your email", cfg.AppName),
		body: fmt.Sprintf(
			"Hello %s,\n\nYour verification code is %s. It expires in %d minutes.\n\nIf you did not create an account, ignore this message.\n",
			account.FirstName, code, ttlMinutes,
		),
	}
}

func passwordResetMessage(cfg MailConfig, account Account, tok string, ttlMinutes int) message {
	link := strings.TrimRight(cfg.ResetURL, "/") + "/" + tok
	return message{
		kind:    "password_reset",
		subject: fmt.Sprintf("%s: reset your password", cfg.AppName),
		body: fmt.Sprintf(
			"Hello %s,\n\nOpen the link below to choose a new password. It expires in %d minutes.\n\n%s\n\nIf you did not ask for a reset, ignore this message.\n",
			account.FirstName, ttlMinutes, link,
		),
	}
}

// sendMail delivers msg to the account. A failure is logged and returned as
// a warning string; it never undoes the state change that triggered it.
func (e *Engine) sendMail(ctx context.Context, account Account, msg message) string {
	err := e.mailer.Send(ctx, account.Email, msg.subject, msg.body)
	if err == nil {
		return ""
	}

	e.metricInc(MetricMailDeliveryFailure)
	e.logger.Warn("mail delivery failed",
		zap.String("account_id", account.ID),
		zap.String("message", msg.kind),
		zap.Error(err),
	)
	e.emitAudit(ctx, auditEventMailDeliveryFailure, false, account.ID, "", errMailDelivery, func() map[string]string {
		return map[string]string{"message": msg.kind}
	})
	return deliveryWarning
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
