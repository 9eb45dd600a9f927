package syncengine

import (
	"context"
	"fmt"

	"bitbucket.org/meditrust/medsync_backend/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// EmailNotifier mails the administrator when a new conflict is raised. SMTP
// credentials come from system settings; while they are blank, notifications
// are silently skipped so the engine keeps working on a fresh install.
type EmailNotifier struct {
	settings *config.SystemConfig
	logger   *logrus.Logger
}

func NewEmailNotifier(settings *config.SystemConfig) *EmailNotifier {
	return &EmailNotifier{
		settings: settings,
		logger:   config.GetLogger(),
	}
}

func (n *EmailNotifier) NotifyConflict(ctx context.Context, tableName string, recordId string, reason string) error {
	v := n.settings.Snapshot()
	if v.SenderEmail == "" || v.SMTPPassword == "" || v.AdminEmail == "" {
		n.logger.WithFields(logrus.Fields{"table": tableName, "recordId": recordId}).
			Debug("smtp not configured, conflict notification skipped")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", v.SenderEmail)
	m.SetHeader("To", v.AdminEmail)
	m.SetHeader("Subject", fmt.Sprintf("[MedSync] Sync conflict on %s:%s", tableName, recordId))
	m.SetBody("text/html", fmt.Sprintf(
		"<p>A data conflict was detected and the record is frozen until it is resolved.</p>"+
			"<p><b>Table:</b> %s<br/><b>Record:</b> %s</p>"+
			"<p><b>Detail:</b> %s</p>"+
			"<p>Resolve it here: <a href=\"%s/conflicts\">%s/conflicts</a></p>",
		tableName, recordId, reason, v.FrontendURL, v.FrontendURL))

	d := gomail.NewDialer(v.SMTPServer, v.SMTPPort, v.SenderEmail, v.SMTPPassword)
	if v.SMTPPort == 465 {
		d.SSL = true
	}
	return d.DialAndSend(m)
}
