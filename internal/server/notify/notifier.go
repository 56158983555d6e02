// Package notify tells an account's contacts that it moved to another
// instance.
package notify

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

// Result is the outcome for one contact.
type Result struct {
	Contact string
	Err     error
}

// Notifier announces a completed move. Implementations return an error
// wrapping common.ErrNotifyFailed; callers treat it as non-fatal.
type Notifier interface {
	NotifyAll(ctx context.Context, account *models.User, oldDomain, newDomain string) ([]Result, error)
}

// ContactLister resolves whom to notify for an account.
type ContactLister interface {
	Contacts(ctx context.Context, userID string) ([]string, error)
}

// LogNotifier records the move in the structured log, once per contact.
// With no lister it records a single account-level line.
type LogNotifier struct {
	contacts ContactLister
	logger   logging.Logger
}

func NewLogNotifier(contacts ContactLister, logger logging.Logger) *LogNotifier {
	return &LogNotifier{contacts: contacts, logger: logger.With("module", "notify")}
}

func (n *LogNotifier) NotifyAll(ctx context.Context, account *models.User, oldDomain, newDomain string) ([]Result, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: no account", common.ErrNotifyFailed)
	}
	if newDomain == "" {
		return nil, fmt.Errorf("%w: new domain is not configured", common.ErrNotifyFailed)
	}

	if n.contacts == nil {
		n.logger.Info(ctx, "account moved", "user_id", account.ID, "username", account.UserName,
			"from", oldDomain, "to", newDomain)
		return nil, nil
	}

	contacts, err := n.contacts.Contacts(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list contacts: %v", common.ErrNotifyFailed, err)
	}

	results := make([]Result, 0, len(contacts))
	for _, c := range contacts {
		n.logger.Info(ctx, "contact notified of move", "user_id", account.ID, "contact", c,
			"from", oldDomain, "to", newDomain)
		results = append(results, Result{Contact: c})
	}
	return results, nil
}
