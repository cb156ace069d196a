package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, send: smtp.SendMail, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, userEmail, jobID, videoKey, errorMsg string) error {
	subject := fmt.Sprintf("FIAP X - Keyframe Extraction Failed [Job %s]", jobID)
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"We could not extract a preview image from your video.\r\n\r\n"+
			"Job ID: %s\r\n"+
			"Video: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"Please try uploading the video again or contact support.\r\n\r\n"+
			"-- FIAP X Keyframe Service",
		jobID, videoKey, errorMsg,
	)
	return n.deliver(userEmail, jobID, subject, body)
}

func (n *SMTPNotifier) NotifyNoKeyframe(_ context.Context, userEmail, jobID, videoKey string, framesEvaluated int) error {
	subject := fmt.Sprintf("FIAP X - No Usable Frame Found [Job %s]", jobID)
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"Your video was processed, but none of its %d frames was bright and sharp enough to use as a preview.\r\n\r\n"+
			"Job ID: %s\r\n"+
			"Video: %s\r\n\r\n"+
			"Videos that open on a dark or blurred scene often cause this.\r\n\r\n"+
			"-- FIAP X Keyframe Service",
		framesEvaluated, jobID, videoKey,
	)
	return n.deliver(userEmail, jobID, subject, body)
}

func (n *SMTPNotifier) deliver(to, jobID, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.from, to, subject, body,
	)

	if err := n.send(addr, nil, n.from, []string{to}, []byte(msg)); err != nil {
		n.logger.Error("failed to send notification email",
			zap.String("to", to),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("notification email sent",
		zap.String("to", to),
		zap.String("job_id", jobID),
		zap.String("subject", subject),
	)
	return nil
}
