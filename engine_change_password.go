package authgate

import "context"

// ChangePassword replaces the digest of the account logged in on h after
// checking oldPassword. The new password is held to the length policy only.
func (e *Engine) ChangePassword(ctx context.Context, h SessionHandle, oldPassword, newPassword string) error {
	_, account, err := e.authenticated(ctx, h)
	if err != nil {
		return err
	}
	if err := requireFields(map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}); err != nil {
		return err
	}
	if err := e.validateNewPassword("newPassword", newPassword, false); err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return e.serverError(ctx, "password_verify", err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChange, false, account.ID, h.ID(), ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	digest, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.serverError(ctx, "password_hash", err)
	}
	if _, err := e.accounts.Update(ctx, account.ID, AccountUpdate{PasswordHash: &digest}); err != nil {
		return e.serverError(ctx, "account_update", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, account.ID, h.ID(), nil, nil)
	return nil
}
