package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/directory"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
)

var errSignedOut = errors.New("not signed in")

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (a *App) printContact(c *models.Contact) {
	fmt.Fprintf(a.out, "%d\t%s\t%s\n", c.ID, c.PriorityName(), c.Domain)
}

func (a *App) printGroup(g *models.Group) {
	owner := int64(0)
	if g.Owner != nil {
		owner = g.Owner.ID
	}
	fmt.Fprintf(a.out, "%d\t%s\towner=%d\tmembers=%d\t%s\n", g.ID, g.Name, owner, len(g.MemberIDs), g.State)
}

// Contact resolves and prints one contact.
func (a *App) Contact(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	c, err := a.dir.ResolveContact(ctx, id)
	if err != nil {
		return err
	}
	a.printContact(c)
	return nil
}

// Group resolves and prints one group.
func (a *App) Group(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	g, err := a.dir.ResolveGroup(ctx, id)
	if err != nil {
		return err
	}
	a.printGroup(g)
	return nil
}

// Groups prints the groups the signed-in user belongs to.
func (a *App) Groups(ctx context.Context) error {
	if !a.signedIn() {
		return errSignedOut
	}
	groups := a.dir.MyGroups()
	if len(groups) == 0 {
		fmt.Fprintln(a.out, "no groups")
		return nil
	}
	for _, g := range groups {
		a.printGroup(g)
	}
	return nil
}

// Members prints the resolvable members of a group, in member order.
func (a *App) Members(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	g, err := a.dir.ResolveGroup(ctx, id)
	if err != nil {
		return err
	}
	members, err := a.dir.GroupMembers(ctx, g)
	if err != nil {
		return err
	}
	for _, c := range members {
		a.printContact(c)
	}
	return nil
}

func (a *App) Block(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	if err := a.dir.AddBlock(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "blocked %d\n", id)
	return nil
}

func (a *App) Unblock(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	if err := a.dir.RemoveBlock(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "unblocked %d\n", id)
	return nil
}

// Remark sets the remark name of a contact. An empty remark clears it.
func (a *App) Remark(ctx context.Context, arg string, remark string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	c, err := a.dir.ResolveContact(ctx, id)
	if err != nil {
		return err
	}
	if err := a.dir.RemarkContact(ctx, c, remark); err != nil {
		return err
	}
	a.printContact(c)
	return nil
}

// Leave quits a group the signed-in user is a member of.
func (a *App) Leave(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	g, err := a.dir.ResolveGroup(ctx, id)
	if err != nil {
		return err
	}
	if err := a.dir.QuitGroup(ctx, g); err != nil {
		if errors.Is(err, common.ErrNotAllowed) {
			return fmt.Errorf("cannot leave group %d: %w", id, err)
		}
		return err
	}
	fmt.Fprintf(a.out, "left %d\n", id)
	return nil
}

// Watch prints directory events until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	events := make(chan directory.Event, 64)
	unsubscribe := a.dir.Subscribe(func(ev directory.Event) {
		select {
		case events <- ev:
		default:
			a.logger.Warn(ctx, "event dropped", "kind", ev.Kind)
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			fmt.Fprintln(a.out, describeEvent(ev))
		}
	}
}

func describeEvent(ev directory.Event) string {
	var b strings.Builder
	b.WriteString(ev.Kind.String())
	switch {
	case ev.Group != nil:
		fmt.Fprintf(&b, " group=%d", ev.Group.ID)
	case ev.Contact != nil:
		fmt.Fprintf(&b, " contact=%d", ev.Contact.ID)
	case ev.Self != nil:
		fmt.Fprintf(&b, " self=%d", ev.Self.ID)
	}
	if ev.Bundle != nil && len(ev.Bundle.Modified) > 0 {
		ids := make([]string, 0, len(ev.Bundle.Modified))
		for _, c := range ev.Bundle.Modified {
			ids = append(ids, strconv.FormatInt(c.ID, 10))
		}
		fmt.Fprintf(&b, " members=%s", strings.Join(ids, ","))
	}
	return b.String()
}

func (a *App) SignOut(ctx context.Context) error {
	if err := a.dir.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *App) status() string {
	self := a.dir.Self()
	if self == nil {
		return "signed out"
	}
	return self.Name
}
