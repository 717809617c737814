// Copyright 2025 FlowGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package adapters

import (
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"flowgate/platform/shared/logger"
)

// SMTPConfig is a tenant's SMTP settings. Tenants without SMTP stay in
// draft mode: drafts are stored but never sent.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	From     string `json:"from,omitempty"`
}

// ParseSMTPConfig decodes a tenant's JSON SMTP settings. Empty input
// yields a zero config (draft mode).
func ParseSMTPConfig(raw string) (SMTPConfig, error) {
	var cfg SMTPConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse SMTP config: %w", err)
	}
	return cfg, nil
}

// EmailSender sends HTML email over SMTP.
type EmailSender struct {
	log *logger.Logger

	// sendMail is swapped in tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates a sender.
func NewEmailSender() *EmailSender {
	return &EmailSender{
		log:      logger.New("email"),
		sendMail: smtp.SendMail,
	}
}

// Send delivers one message. Returns sent=false without error when the
// tenant has no usable SMTP host (draft mode).
func (e *EmailSender) Send(cfg SMTPConfig, to, subject, bodyHTML string) (bool, error) {
	if cfg.Host == "" || cfg.Host == "localhost" {
		e.log.Info("", "", "Email draft mode, SMTP not configured", map[string]interface{}{
			"to":      to,
			"subject": subject,
		})
		return false, nil
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(bodyHTML)

	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	if err := e.sendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return false, fmt.Errorf("failed to send email: %w", err)
	}
	return true, nil
}
