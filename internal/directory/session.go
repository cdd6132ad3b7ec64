package directory

import (
	"context"

	"github.com/dmitrijs2005/gophdirectory/internal/auth"
	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/fanin"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
)

// Sub-fetches of the sign-in readiness gate.
const (
	stepGroups    = "groups"
	stepBlockList = "blockList"
	stepTopList   = "topList"
	stepAppendix  = "appendix"
)

type sessionRequest struct {
	Domain  string          `json:"domain"`
	Contact *models.Contact `json:"contact"`
}

// SignIn signs in with token and blocks until the session is ready: recent
// groups, block list, top list and the self appendix have all settled, or
// the sign-in timeout passed. Failed sub-fetches do not fail sign-in.
func (e *Engine) SignIn(ctx context.Context, token string) (*models.Self, error) {
	claims, err := auth.Parse(token, e.clock.Now())
	if err != nil {
		return nil, common.WrapError(moduleSession, common.CodeInvalidParameter, "token", err)
	}

	if _, ok := e.currentSelf(); ok {
		return nil, common.NewError(moduleSession, common.CodeIllegalOperation, claims.ContactID)
	}

	self := claims.Self(e.clock.Now())
	if self.Domain == "" {
		self.Domain = e.cfg.Domain
	}

	resp, err := e.send(ctx, moduleSession, pipeline.ActionSignIn,
		sessionRequest{Domain: e.cfg.Domain, Contact: &self.Contact}, self.ID)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) > 0 {
		var server models.Contact
		if err := resp.Decode(&server); err == nil && server.ID == self.ID {
			self.Update(&server)
		}
	}

	e.mu.Lock()
	if e.self != nil {
		e.mu.Unlock()
		return nil, common.NewError(moduleSession, common.CodeIllegalOperation, self.ID)
	}
	e.self = self
	e.selfReady = false
	e.mu.Unlock()

	ready := e.startReadinessGate(ctx, self)
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cur, ok := e.currentSelf(); !ok || cur != self {
		return nil, common.NewError(moduleSession, common.CodeNotAllowed, self.ID)
	}
	return self, nil
}

// startReadinessGate launches the four sign-in sub-fetches. When all have
// settled (or the gate times out) selfReady flips and SignIn is emitted,
// once, unless the session ended meanwhile. The returned channel closes
// after that.
func (e *Engine) startReadinessGate(ctx context.Context, self *models.Self) <-chan struct{} {
	gate := fanin.New(e.clock, 4, e.cfg.SignInTimeout)
	ready := make(chan struct{})

	gate.OnComplete(func(r fanin.Result) {
		defer close(ready)

		e.mu.Lock()
		if e.self != self {
			e.mu.Unlock()
			return
		}
		e.selfReady = true
		e.mu.Unlock()

		for step, err := range r.Errors {
			e.logger.Warn(ctx, "sign-in step failed", "step", step, "error", err)
		}
		if !r.Complete {
			e.logger.Warn(ctx, "sign-in settled on timeout", "announced", len(r.Values)+len(r.Errors))
		}
		e.logger.Info(ctx, "signed in", "self", self.ID)
		e.events.emit(Event{Kind: EventSignIn, Self: self})
	})

	bg := context.WithoutCancel(ctx)
	run := func(step string, fn func(ctx context.Context) (any, error)) {
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			v, err := fn(bg)
			gate.AnnounceResult(step, v, err)
		}()
	}

	run(stepGroups, func(ctx context.Context) (any, error) { return e.ListGroups(ctx) })
	run(stepBlockList, func(ctx context.Context) (any, error) { return e.BlockList(ctx) })
	run(stepTopList, func(ctx context.Context) (any, error) { return e.TopList(ctx) })
	run(stepAppendix, func(ctx context.Context) (any, error) {
		return e.ResolveContactAppendix(ctx, &self.Contact)
	})

	return ready
}

// SignOut ends the session. Local session state is dropped even when the
// server request fails; that failure is still returned.
func (e *Engine) SignOut(ctx context.Context) error {
	self, ok := e.currentSelf()
	if !ok {
		return common.NewError(moduleSession, common.CodeNotAllowed, nil)
	}

	_, err := e.send(ctx, moduleSession, pipeline.ActionSignOut,
		entityRequest{ID: self.ID, Domain: e.cfg.Domain}, self.ID)

	if cleared := e.clearSession(); cleared != nil {
		e.events.emit(Event{Kind: EventSignOut, Self: cleared})
	}
	return err
}

// Comeback re-announces the signed-in user after the pipeline reconnected.
func (e *Engine) Comeback(ctx context.Context) error {
	self, ok := e.currentSelf()
	if !ok {
		return common.NewError(moduleSession, common.CodeNotAllowed, nil)
	}

	e.mu.Lock()
	contact := snapshotContact(&self.Contact)
	e.mu.Unlock()

	if _, err := e.send(ctx, moduleSession, pipeline.ActionComeback,
		sessionRequest{Domain: e.cfg.Domain, Contact: contact}, self.ID); err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventComeback, Self: self})
	return nil
}

// clearSession drops everything tied to the signed-in user and returns the
// user that was signed in, nil if none was.
func (e *Engine) clearSession() *models.Self {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.self
	e.self = nil
	e.selfReady = false
	clear(e.myGroups)
	e.blockList = nil
	e.topList = nil

	e.contacts.Clear()
	e.groups.Clear()
	e.contactAppendices.Clear()
	e.groupAppendices.Clear()
	return self
}
