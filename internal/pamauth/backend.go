// Package pamauth implements auth.Backend on top of libpam.
package pamauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msteinert/pam"

	"github.com/tuxx/lockgate/internal/auth"
	"github.com/tuxx/lockgate/internal/log"
)

// Backend starts one PAM transaction per session.
type Backend struct{}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Open(service, user string, conv auth.Conversation) (auth.Session, error) {
	t, err := pam.StartFunc(service, user, converse(conv))
	if err != nil {
		return nil, fmt.Errorf("pam_start(%s, %s): %w", service, user, err)
	}
	log.Debug("Started PAM transaction for service %s", service)
	return &session{t: t}, nil
}

func converse(conv auth.Conversation) func(pam.Style, string) (string, error) {
	return func(style pam.Style, msg string) (string, error) {
		switch style {
		case pam.PromptEchoOff:
			return conv.PromptBlind(msg)
		case pam.PromptEchoOn:
			return conv.PromptEcho(msg)
		case pam.ErrorMsg:
			log.Info("PAM error: %s", msg)
			return "", conv.Error(msg)
		case pam.TextInfo:
			log.Info("PAM info: %s", msg)
			return "", conv.Info(msg)
		default:
			return "", errors.New("unexpected conversation style")
		}
	}
}

type session struct {
	t *pam.Transaction
}

// Authenticate verifies the user and then checks the account is usable.
func (s *session) Authenticate() error {
	if err := s.t.Authenticate(0); err != nil {
		return classify("Authentication failed", err)
	}
	if err := s.t.AcctMgmt(0); err != nil {
		return classify("Account validation failed", err)
	}
	return nil
}

// Close drops the transaction. The library ends it when it is collected.
func (s *session) Close() error {
	s.t = nil
	return nil
}

// classify maps libpam's error text onto auth failure kinds.
func classify(prefix string, err error) *auth.Failure {
	msg := err.Error()
	lower := strings.ToLower(msg)

	kind := auth.FailureOther
	switch {
	case strings.Contains(lower, "abort"):
		kind = auth.FailureAbort
	case strings.Contains(lower, "authentication failure"),
		strings.Contains(lower, "user not known"),
		strings.Contains(lower, "maximum number of retries"),
		strings.Contains(lower, "expired"),
		strings.Contains(lower, "insufficient credentials"),
		strings.Contains(lower, "permission denied"):
		kind = auth.FailureAuth
	}
	return &auth.Failure{Kind: kind, Reason: prefix + ": " + msg, Err: err}
}
