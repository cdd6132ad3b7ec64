package directory

import (
	"context"
	"slices"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
)

type listRequest struct {
	Action string `json:"action"`
	ID     int64  `json:"id,omitempty"`
}

type listResponse struct {
	List []int64 `json:"list"`
}

func (e *Engine) fetchList(ctx context.Context, module, action string) ([]int64, error) {
	resp, err := e.send(ctx, module, action, listRequest{Action: "get"}, nil)
	if err != nil {
		return nil, err
	}

	var lr listResponse
	if len(resp.Data) > 0 {
		if err := resp.Decode(&lr); err != nil {
			return nil, common.WrapError(module, common.CodeServerError, nil, err)
		}
	}
	return uniqueIDs(lr.List), nil
}

func (e *Engine) editList(ctx context.Context, module, action, op string, id int64) error {
	self, ok := e.currentSelf()
	if !ok {
		return common.NewError(module, common.CodeNotAllowed, id)
	}
	if id <= 0 {
		return common.NewError(module, common.CodeInvalidParameter, id)
	}
	if module == moduleBlock && op == "add" && id == self.ID {
		return common.NewError(module, common.CodeIllegalOperation, id)
	}

	_, err := e.send(ctx, module, action, listRequest{Action: op, ID: id}, id)
	return err
}

// BlockList fetches the signed-in user's block list and caches it.
func (e *Engine) BlockList(ctx context.Context) ([]int64, error) {
	ids, err := e.fetchList(ctx, moduleBlock, pipeline.ActionBlockList)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.blockList = ids
	e.mu.Unlock()
	return slices.Clone(ids), nil
}

// AddBlock blocks id. Blocking oneself is an illegal operation.
func (e *Engine) AddBlock(ctx context.Context, id int64) error {
	if err := e.editList(ctx, moduleBlock, pipeline.ActionBlockList, "add", id); err != nil {
		return err
	}

	e.mu.Lock()
	if !slices.Contains(e.blockList, id) {
		e.blockList = append(e.blockList, id)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) RemoveBlock(ctx context.Context, id int64) error {
	if err := e.editList(ctx, moduleBlock, pipeline.ActionBlockList, "remove", id); err != nil {
		return err
	}

	e.mu.Lock()
	e.blockList = slices.DeleteFunc(e.blockList, func(v int64) bool { return v == id })
	e.mu.Unlock()
	return nil
}

// IsBlocked reports whether id is on the cached block list.
func (e *Engine) IsBlocked(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Contains(e.blockList, id)
}

// TopList fetches the pinned contacts and groups and caches them.
func (e *Engine) TopList(ctx context.Context) ([]int64, error) {
	ids, err := e.fetchList(ctx, moduleTop, pipeline.ActionTopList)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.topList = ids
	e.mu.Unlock()
	return slices.Clone(ids), nil
}

func (e *Engine) AddTopList(ctx context.Context, id int64) error {
	if err := e.editList(ctx, moduleTop, pipeline.ActionTopList, "add", id); err != nil {
		return err
	}

	e.mu.Lock()
	if !slices.Contains(e.topList, id) {
		e.topList = append(e.topList, id)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) RemoveTopList(ctx context.Context, id int64) error {
	if err := e.editList(ctx, moduleTop, pipeline.ActionTopList, "remove", id); err != nil {
		return err
	}

	e.mu.Lock()
	e.topList = slices.DeleteFunc(e.topList, func(v int64) bool { return v == id })
	e.mu.Unlock()
	return nil
}

func (e *Engine) IsTop(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Contains(e.topList, id)
}
