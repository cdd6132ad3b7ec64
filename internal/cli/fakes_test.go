package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/directory"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
)

var testNow = time.UnixMilli(1_700_000_000_000)

type fakeDirectory struct {
	mu sync.Mutex

	self       *models.Self
	token      string
	signInErr  error
	signOutErr error

	contacts map[int64]*models.Contact
	groups   map[int64]*models.Group
	mine     []*models.Group

	remarks  map[int64]string
	blocked  []int64
	quit     []int64
	quitErr  error
	listener directory.Listener
	closed   bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		contacts: map[int64]*models.Contact{},
		groups:   map[int64]*models.Group{},
		remarks:  map[int64]string{},
	}
}

func (f *fakeDirectory) SignIn(_ context.Context, token string) (*models.Self, error) {
	f.token = token
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	f.self = models.NewSelf(1, "alice", "example.com", testNow)
	return f.self, nil
}

func (f *fakeDirectory) SignOut(context.Context) error {
	if f.self == nil {
		return common.ErrNotAllowed
	}
	f.self = nil
	return f.signOutErr
}

func (f *fakeDirectory) Self() *models.Self { return f.self }

func (f *fakeDirectory) ResolveContact(_ context.Context, id int64) (*models.Contact, error) {
	if c, ok := f.contacts[id]; ok {
		return c, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeDirectory) ResolveGroup(_ context.Context, id int64) (*models.Group, error) {
	if g, ok := f.groups[id]; ok {
		return g, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeDirectory) MyGroups() []*models.Group { return f.mine }

func (f *fakeDirectory) GroupMembers(_ context.Context, g *models.Group) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, id := range g.MemberIDs {
		if c, ok := f.contacts[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeDirectory) RemarkContact(_ context.Context, c *models.Contact, remark string) error {
	f.remarks[c.ID] = remark
	c.Appendix = &models.ContactAppendix{RemarkName: remark}
	return nil
}

func (f *fakeDirectory) QuitGroup(_ context.Context, g *models.Group) error {
	if f.quitErr != nil {
		return f.quitErr
	}
	f.quit = append(f.quit, g.ID)
	return nil
}

func (f *fakeDirectory) AddBlock(_ context.Context, id int64) error {
	f.blocked = append(f.blocked, id)
	return nil
}

func (f *fakeDirectory) RemoveBlock(_ context.Context, id int64) error {
	for i, b := range f.blocked {
		if b == id {
			f.blocked = append(f.blocked[:i], f.blocked[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeDirectory) Subscribe(fn directory.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listener = nil
	}
}

func (f *fakeDirectory) currentListener() directory.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

func (f *fakeDirectory) Close() error {
	f.closed = true
	return nil
}

type fakeTokens struct{ token string }

func (f *fakeTokens) SetToken(token string) { f.token = token }

// syncBuffer is a bytes.Buffer safe for one writer and one reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(dir *fakeDirectory, input string) (*App, *syncBuffer) {
	out := &syncBuffer{}
	a := newApp(dir, &fakeTokens{}, logging.Discard(), out, strings.NewReader(input))
	a.closers = []func() error{dir.Close}
	return a, out
}

func testGroup(id, owner int64, members ...int64) *models.Group {
	g := &models.Group{
		Owner:     models.NewContact(owner, "owner", "example.com", testNow),
		Name:      "team",
		Domain:    "example.com",
		MemberIDs: members,
	}
	g.ID = id
	return g
}
