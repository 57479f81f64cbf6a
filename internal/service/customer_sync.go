// internal/service/customer_sync.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/contactsync-backend/internal/directory"
	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
	"github.com/unclebandit/contactsync-backend/internal/naming"
)

// minPhoneDigits is the shortest number that can be matched on its last nine digits.
const minPhoneDigits = 9

// conn is one linked account opened for the current run.
type conn struct {
	account model.Account
	dir     Directory
	count   *int
}

func (c *conn) email() string { return c.account.Email }

// syncCustomer processes every pending contact of one customer. Directory failures are
// turned into the customer's outcome; only record store failures are returned.
func (o *Orchestrator) syncCustomer(ctx context.Context, customer string, campaigns []string, state CustomerState) (CustomerResult, CustomerState, error) {
	res := CustomerResult{Customer: customer}
	log := o.logger.With(zap.String("customer", customer))

	if now := o.now(); now.Before(state.ResumeAt) {
		log.Info("customer rate limited, skipping", zap.Time("resume_at", state.ResumeAt))
		res.Outcome = OutcomeRateLimited
		return res, state, nil
	}
	state = CustomerState{}

	accounts, err := o.store.GetAccounts(ctx, customer)
	if err != nil {
		return res, state, fmt.Errorf("get accounts of %s: %w", customer, err)
	}
	conns := o.connect(customer, accounts)
	if len(conns) == 0 {
		log.Warn("customer has no usable credentials")
		res.Outcome = OutcomeNoTokens
		return res, state, nil
	}

	if kind, err := o.measure(ctx, conns); kind == appErrors.KindRateLimitTemporary {
		state.ResumeAt = o.now().Add(appErrors.RetryAfterOf(err))
		log.Warn("rate limited while measuring capacity", zap.Time("resume_at", state.ResumeAt))
		res.Outcome = OutcomeRateLimited
		res.ErrorKind = string(kind)
		return res, state, nil
	}

	if total, full := o.overCeiling(conns); full {
		msg := fmt.Sprintf("all %d linked accounts hold at least %d contacts (%d in total)", len(conns), o.cfg.ContactCeiling, total)
		if err := o.raise(ctx, customer, appErrors.KindContactLimitMax, msg); err != nil {
			return res, state, err
		}
		res.Outcome = OutcomeContactLimitMax
		res.ErrorKind = string(appErrors.KindContactLimitMax)
		return res, state, nil
	}

	best := o.pickBest(conns)
	if best == nil {
		log.Warn("no account below the contact ceiling")
		res.Outcome = OutcomeNoValidAccount
		return res, state, nil
	}
	res.Account = best.email()
	log = log.With(zap.String("account", best.email()))

	cleared := false
	wrote := false
	for _, campaign := range campaigns {
		label := naming.LabelName(campaign, o.now())
		pending, err := o.store.ListPendingContacts(ctx, campaign, customer)
		if err != nil {
			return res, state, fmt.Errorf("list pending contacts of %s in %q: %w", customer, campaign, err)
		}

		for _, contact := range pending {
			if len(naming.Digits(contact.ContactPhone)) < minPhoneDigits {
				if err := o.finish(ctx, contact, model.StatusExcluded, nil, model.ActionExcluded, "", "phone too short to match"); err != nil {
					return res, state, err
				}
				res.Excluded++
				continue
			}

			if wrote {
				o.sleep(ctx, o.cfg.WriteDelay)
			}
			wrote = true

			status, where, name, dirErr := o.place(ctx, conns, best, label, contact)
			if dirErr != nil {
				kind := appErrors.KindOf(dirErr)
				o.recordActivity(ctx, activity(contact, best, model.ActionFailed, string(kind), dirErr.Error()))

				switch {
				case kind == appErrors.KindRateLimitTemporary:
					state.ResumeAt = o.now().Add(appErrors.RetryAfterOf(dirErr))
					log.Warn("rate limited, pausing customer",
						zap.Time("resume_at", state.ResumeAt), zap.String("campaign", campaign))
					res.Outcome = OutcomeRateLimited
					res.ErrorKind = string(kind)
					return res, state, nil
				case kind.IsCritical():
					if err := o.raise(ctx, customer, kind, dirErr.Error()); err != nil {
						return res, state, err
					}
					res.Outcome = OutcomeStopped
					res.ErrorKind = string(kind)
					return res, state, nil
				default:
					log.Error("contact sync failed",
						zap.String("campaign", campaign), zap.String("contact", contact.ContactPhone), zap.Error(dirErr))
					res.Failed++
					continue
				}
			}

			action, msg := model.ActionSaved, "created as "+name
			if status == model.StatusExisted {
				action, msg = model.ActionExisted, "already in "+where.email()
			}
			if err := o.finish(ctx, contact, status, where, action, "", msg); err != nil {
				return res, state, err
			}
			if status == model.StatusSaved {
				res.Saved++
			} else {
				res.Existed++
			}

			if !cleared {
				if err := o.store.ClearErrorState(ctx, customer); err != nil {
					return res, state, fmt.Errorf("clear error state of %s: %w", customer, err)
				}
				cleared = true
			}
		}
	}

	res.Outcome = OutcomeCompleted
	return res, state, nil
}

// connect opens a directory client for every account whose refresh token decrypts.
func (o *Orchestrator) connect(customer string, accounts []model.Account) []*conn {
	conns := make([]*conn, 0, len(accounts))
	for _, acc := range accounts {
		if acc.RefreshTokenEnc == "" {
			continue
		}
		refresh, err := o.vault.Decrypt(acc.RefreshTokenEnc)
		if err != nil || refresh == "" {
			o.logger.Warn("refresh token unusable, skipping account",
				zap.String("customer", customer), zap.String("account", acc.Email), zap.Error(err))
			continue
		}
		access := ""
		if acc.AccessTokenEnc != "" {
			if access, err = o.vault.Decrypt(acc.AccessTokenEnc); err != nil {
				access = ""
			}
		}
		dir, err := o.newDirectory(acc, access, refresh, o.tokenSaver(acc))
		if err != nil {
			o.logger.Warn("directory client unavailable, skipping account",
				zap.String("customer", customer), zap.String("account", acc.Email), zap.Error(err))
			continue
		}
		conns = append(conns, &conn{account: acc, dir: dir})
	}
	return conns
}

func (o *Orchestrator) tokenSaver(acc model.Account) directory.TokenSaver {
	return func(ctx context.Context, access, refresh string) error {
		accessEnc, err := o.vault.Encrypt(access)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		refreshEnc, err := o.vault.Encrypt(refresh)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		return o.store.UpdateAccountCredentials(ctx, acc.ID, accessEnc, refreshEnc)
	}
}

// measure queries every account's contact count concurrently. A failed query leaves the
// count unknown. It reports a rate limit so the caller can pause the customer.
func (o *Orchestrator) measure(ctx context.Context, conns []*conn) (appErrors.Kind, error) {
	errs := make([]error, len(conns))
	var g errgroup.Group
	for i, c := range conns {
		g.Go(func() error {
			n, err := c.dir.AccountCapacity(ctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			c.count = &n
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range conns {
		if err := errs[i]; err != nil {
			kind := appErrors.KindOf(err)
			o.logger.Warn("capacity unknown",
				zap.String("account", c.email()), zap.String("kind", string(kind)), zap.Error(err))
			if kind == appErrors.KindRateLimitTemporary {
				return kind, err
			}
			continue
		}
		if err := o.store.UpdateAccountContactCount(ctx, c.account.ID, *c.count); err != nil {
			o.logger.Warn("failed to cache contact count", zap.String("account", c.email()), zap.Error(err))
		}
	}
	return "", nil
}

// overCeiling is true only when every account's count is known and at or above the ceiling.
func (o *Orchestrator) overCeiling(conns []*conn) (int, bool) {
	total := 0
	for _, c := range conns {
		if c.count == nil || *c.count < o.cfg.ContactCeiling {
			return 0, false
		}
		total += *c.count
	}
	return total, true
}

// pickBest prefers the known count furthest below the ceiling, earlier accounts winning
// ties. Accounts with an unknown count are used only when no known one qualifies.
func (o *Orchestrator) pickBest(conns []*conn) *conn {
	var best, unknown *conn
	for _, c := range conns {
		if c.count == nil {
			if unknown == nil {
				unknown = c
			}
			continue
		}
		if *c.count >= o.cfg.ContactCeiling {
			continue
		}
		if best == nil || *c.count < *best.count {
			best = c
		}
	}
	if best != nil {
		return best
	}
	return unknown
}

// place files one contact. It returns the status to store and the account that holds it.
func (o *Orchestrator) place(ctx context.Context, conns []*conn, best *conn, label string, contact model.PendingContact) (model.ContactStatus, *conn, string, error) {
	holder, err := o.findElsewhere(ctx, conns, best, contact.ContactPhone)
	if err != nil {
		return "", nil, "", err
	}
	if holder != nil {
		return model.StatusExisted, holder, "", nil
	}

	saved, err := best.dir.SaveContactWithLabel(ctx, contact.ContactName, contact.ContactPhone, label, o.cfg.FallbackName)
	if err != nil {
		return "", nil, "", err
	}
	if saved.Outcome == directory.OutcomeExisted {
		return model.StatusExisted, best, saved.Name, nil
	}
	return model.StatusSaved, best, saved.Name, nil
}

// findElsewhere checks the accounts other than best concurrently. The best account is
// checked by SaveContactWithLabel itself.
func (o *Orchestrator) findElsewhere(ctx context.Context, conns []*conn, best *conn, phone string) (*conn, error) {
	others := make([]*conn, 0, len(conns))
	for _, c := range conns {
		if c != best {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return nil, nil
	}

	hits := make([]bool, len(others))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range others {
		g.Go(func() error {
			found, err := c.dir.FindByPhone(gctx, phone)
			if err != nil {
				return err
			}
			hits[i] = found != nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, hit := range hits {
		if hit {
			return others[i], nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) finish(ctx context.Context, contact model.PendingContact, status model.ContactStatus, where *conn, action model.ActivityAction, kind, msg string) error {
	if err := o.store.SetContactStatus(ctx, contact.Campaign, contact.ContactPhone, contact.CustomerPhone, status); err != nil {
		return fmt.Errorf("set status of %s in %q: %w", contact.ContactPhone, contact.Campaign, err)
	}
	o.recordActivity(ctx, activity(contact, where, action, kind, msg))
	o.metrics.ContactOutcome(string(action))
	return nil
}

func (o *Orchestrator) recordActivity(ctx context.Context, ev model.ActivityEvent) {
	ev.CreatedAt = o.now()
	if err := o.store.RecordActivity(ctx, ev); err != nil {
		o.logger.Warn("failed to record activity", zap.String("customer", ev.CustomerPhone), zap.Error(err))
	}
}

func activity(contact model.PendingContact, where *conn, action model.ActivityAction, kind, msg string) model.ActivityEvent {
	ev := model.ActivityEvent{
		CustomerPhone: contact.CustomerPhone,
		Campaign:      contact.Campaign,
		ContactPhone:  contact.ContactPhone,
		ContactName:   contact.ContactName,
		Action:        action,
		ErrorKind:     kind,
		Message:       msg,
	}
	if where != nil {
		ev.AccountEmail = where.email()
	}
	return ev
}

// raise records a critical error and notifies the operator, unless the same kind was
// already notified for this customer.
func (o *Orchestrator) raise(ctx context.Context, customer string, kind appErrors.Kind, message string) error {
	log := o.logger.With(zap.String("customer", customer), zap.String("kind", string(kind)))

	prev, err := o.store.GetErrorState(ctx, customer)
	if err != nil {
		return fmt.Errorf("get error state of %s: %w", customer, err)
	}
	if prev != nil && prev.Notified && prev.Kind == string(kind) {
		log.Info("critical error already notified, not repeating", zap.String("message", message))
		return nil
	}

	log.Error("critical sync error", zap.String("message", message))
	if err := o.notifier.Notify(ctx, customer, kind, message); err != nil {
		log.Error("operator notification failed", zap.Error(err))
	}
	o.metrics.Notification(string(kind))

	if err := o.store.SetErrorState(ctx, customer, string(kind), message, true); err != nil {
		return fmt.Errorf("set error state of %s: %w", customer, err)
	}
	return nil
}
