// Package pipeline is the request/response and push channel between the
// directory engine and the remote authority.
//
// A request is a named action with a JSON payload. Every request carries a
// serial number (sn); a push that echoes the result of a request carries
// the same sn when the server supports it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
)

// Actions used by the directory.
const (
	ActionSignIn            = "SignIn"
	ActionSignOut           = "SignOut"
	ActionComeback          = "Comeback"
	ActionGetContact        = "GetContact"
	ActionGetGroup          = "GetGroup"
	ActionGetAppendix       = "GetAppendix"
	ActionUpdateAppendix    = "UpdateAppendix"
	ActionCreateGroup       = "CreateGroup"
	ActionDismissGroup      = "DismissGroup"
	ActionAddGroupMember    = "AddGroupMember"
	ActionRemoveGroupMember = "RemoveGroupMember"
	ActionModifyGroup       = "ModifyGroup"
	ActionModifyGroupMember = "ModifyGroupMember"
	ActionListGroups        = "ListGroups"
	ActionBlockList         = "BlockList"
	ActionTopList           = "TopList"
)

// Response is a correlated reply or an unsolicited push.
type Response struct {
	SN     string
	Action string
	// StateCode is the transport state; common.StateOK when delivered.
	StateCode int
	// Code is the application code; common.WireOk on success.
	Code int
	Data json.RawMessage
}

// Err maps a non-successful response to a *common.Error attributed to module.
func (r *Response) Err(module string, context any) error {
	if r.StateCode != common.StateOK {
		return common.WrapError(module, common.CodeServerError, context,
			fmt.Errorf("pipeline state %d", r.StateCode))
	}
	if r.Code != common.WireOk {
		return common.WrapError(module, common.CodeFromWire(r.Code), context,
			fmt.Errorf("%s returned code %d", r.Action, r.Code))
	}
	return nil
}

// Decode unmarshals the payload data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%s: empty payload", r.Action)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", r.Action, err)
	}
	return nil
}

// PushHandler receives unsolicited packets.
type PushHandler func(ctx context.Context, push *Response)

// Pipeline is the transport contract the engine depends on. Implementations
// must be safe for concurrent use and must not retry on their own.
type Pipeline interface {
	// Send issues action with payload and waits for the correlated response.
	// A returned error means the transport failed; application failures are
	// reported through the Response codes. The request is sent under the sn
	// carried by ctx (see WithSN) when there is one.
	Send(ctx context.Context, action string, payload any) (*Response, error)

	// Subscribe registers h for pushes. The returned func unregisters it.
	Subscribe(h PushHandler) (unsubscribe func())
}

type snKey struct{}

// WithSN returns a context that makes Send use sn as the request serial
// number, so the caller knows it before the reply or any echo arrives.
func WithSN(ctx context.Context, sn string) context.Context {
	return context.WithValue(ctx, snKey{}, sn)
}

// SNFromContext returns the sn set with WithSN.
func SNFromContext(ctx context.Context) (string, bool) {
	sn, ok := ctx.Value(snKey{}).(string)
	return sn, ok && sn != ""
}
