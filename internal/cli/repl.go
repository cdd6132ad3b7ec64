package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// commander is the command surface the REPL dispatches to. *App satisfies it.
type commander interface {
	signedIn() bool
	Contact(ctx context.Context, id string) error
	Group(ctx context.Context, id string) error
	Groups(ctx context.Context) error
	Members(ctx context.Context, id string) error
	Block(ctx context.Context, id string) error
	Unblock(ctx context.Context, id string) error
	Remark(ctx context.Context, id, remark string) error
	Leave(ctx context.Context, id string) error
	SignOut(ctx context.Context) error
}

// runREPL reads commands from scanner until EOF, "exit" or "quit".
//
// The first word selects the command and the rest are its arguments.
// Command errors are printed and the loop goes on.
func runREPL(ctx context.Context, a commander, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("dir (%s)> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		withID := func(fn func(context.Context, string) error) {
			if len(args) == 0 {
				printlnFn("Usage:", cmd, "<id>")
				return
			}
			report(fn(ctx, args[0]))
		}

		switch cmd {
		case "help":
			if a.signedIn() {
				printlnFn("Available commands: contact, group, (l)ist, members, block, unblock, remark, leave, signout, exit")
			} else {
				printlnFn("Signed out. Available commands: exit")
			}
		case "contact":
			withID(a.Contact)
		case "group":
			withID(a.Group)
		case "l", "list":
			report(a.Groups(ctx))
		case "members":
			withID(a.Members)
		case "block":
			withID(a.Block)
		case "unblock":
			withID(a.Unblock)
		case "remark":
			if len(args) == 0 {
				printlnFn("Usage: remark <id> [name]")
				continue
			}
			report(a.Remark(ctx, args[0], strings.Join(args[1:], " ")))
		case "leave":
			withID(a.Leave)
		case "signout":
			report(a.SignOut(ctx))
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func report(err error) {
	if err != nil {
		printlnFn("Error:", err)
	}
}
