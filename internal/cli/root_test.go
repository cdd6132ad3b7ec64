package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/gophdirectory/internal/config"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpener(a *App, opened *int) Opener {
	return func(context.Context, *config.Config) (*App, error) {
		*opened++
		return a, nil
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "directory", cmd.Use)

	token := cmd.PersistentFlags().Lookup("token")
	require.NotNil(t, token)
	assert.Equal(t, "", token.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)
	commands := []string{"contact", "group", "groups", "members", "block", "unblock", "remark", "leave", "watch", "shell"}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestRootCommand_RunsContact(t *testing.T) {
	dir := newFakeDirectory()
	dir.contacts[7] = models.NewContact(7, "bob", "example.com", testNow)
	a, _ := newTestApp(dir, "")
	opened := 0

	cmd := NewRootCommand(&config.Config{}, testOpener(a, &opened))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--token", "tok", "contact", "7"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, 1, opened)
	assert.Equal(t, "tok", dir.token)
	assert.Equal(t, "7\tbob\texample.com\n", out.String())
	assert.True(t, dir.closed)
}

func TestRootCommand_RemarkPrompts(t *testing.T) {
	dir := newFakeDirectory()
	dir.contacts[7] = models.NewContact(7, "bob", "example.com", testNow)
	a, _ := newTestApp(dir, "bobby\n")
	opened := 0

	cmd := NewRootCommand(&config.Config{}, testOpener(a, &opened))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--token", "tok", "remark", "7"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "bobby", dir.remarks[7])
	assert.Contains(t, out.String(), "Remark name")
}

func TestRootCommand_Shell(t *testing.T) {
	capturePrintln(t)
	dir := newFakeDirectory()
	dir.mine = []*models.Group{testGroup(100, 2, 2, 1)}
	a, _ := newTestApp(dir, "list\nexit\n")
	opened := 0

	cmd := NewRootCommand(&config.Config{}, testOpener(a, &opened))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--token", "tok", "shell"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "100\tteam\towner=2\tmembers=2\tnormal\n", out.String())
}

func TestRootCommand_SignInFailureCloses(t *testing.T) {
	dir := newFakeDirectory()
	dir.signInErr = errors.New("rejected")
	a, _ := newTestApp(dir, "")
	opened := 0

	cmd := NewRootCommand(&config.Config{}, testOpener(a, &opened))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--token", "tok", "groups"})

	err := cmd.ExecuteContext(context.Background())
	assert.EqualError(t, err, "rejected")
	assert.True(t, dir.closed)
}

func TestRootCommand_OpenerError(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, func(context.Context, *config.Config) (*App, error) {
		return nil, errors.New("no cache")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--token", "tok", "groups"})

	assert.EqualError(t, cmd.ExecuteContext(context.Background()), "no cache")
}

func TestRootCommand_HelpSkipsSession(t *testing.T) {
	opened := 0
	cmd := NewRootCommand(&config.Config{}, testOpener(nil, &opened))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"help"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Zero(t, opened)
}
