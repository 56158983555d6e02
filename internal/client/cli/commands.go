package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophmove/internal/client/repositories/journal"
	"github.com/dmitrijs2005/gophmove/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/auth"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

const helpText = `Commands:
  list [status] [direction]       list migration requests
  show <id>                       show one request
  accept <id>                     approve an incoming request
  reject <id> [reason...]         reject an incoming request
  transfer <id>                   pull an accepted account (blocks until done)
  initiate <username> <domain>    start moving a local account to domain
  token <operator>                mint and save an operator token
  logout                          forget the saved token
  history [n]                     show the last n local actions
  health                          check the server is up
  exit | quit`

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// Execute runs one command. args[0] is the command name.
func (a *App) Execute(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(a.out, helpText)
		return nil
	case "health":
		if err := a.api.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
		return nil
	case "list", "ls":
		return a.list(ctx, rest)
	case "show":
		if len(rest) != 1 {
			return usage("show <id>")
		}
		req, err := a.api.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		a.printRequest(req)
		return nil
	case "accept":
		if len(rest) != 1 {
			return usage("accept <id>")
		}
		return a.act(ctx, cmd, rest[0], func() (*models.MigrationRequest, error) {
			return a.api.Accept(ctx, rest[0])
		})
	case "reject":
		if len(rest) < 1 {
			return usage("reject <id> [reason...]")
		}
		reason := strings.Join(rest[1:], " ")
		return a.act(ctx, cmd, rest[0], func() (*models.MigrationRequest, error) {
			return a.api.Reject(ctx, rest[0], reason)
		})
	case "transfer":
		if len(rest) != 1 {
			return usage("transfer <id>")
		}
		fmt.Fprintln(a.out, "transferring, this may take a while...")
		return a.act(ctx, cmd, rest[0], func() (*models.MigrationRequest, error) {
			return a.api.Transfer(ctx, rest[0])
		})
	case "initiate":
		if len(rest) != 2 {
			return usage("initiate <username> <domain>")
		}
		return a.act(ctx, cmd+" "+rest[0]+" -> "+rest[1], "", func() (*models.MigrationRequest, error) {
			return a.api.Initiate(ctx, rest[0], rest[1])
		})
	case "token":
		if len(rest) != 1 {
			return usage("token <operator>")
		}
		return a.mintToken(ctx, rest[0])
	case "logout":
		return a.logout(ctx)
	case "history":
		return a.history(ctx, rest)
	}
	return fmt.Errorf("unknown command %q, type 'help'", cmd)
}

func (a *App) list(ctx context.Context, args []string) error {
	var filter models.RequestFilter
	for _, arg := range args {
		switch {
		case models.Status(arg).Valid():
			filter.Status = models.Status(arg)
		case models.Direction(arg).Valid():
			filter.Direction = models.Direction(arg)
		default:
			return usage("list [status] [direction]")
		}
	}

	reqs, err := a.api.List(ctx, filter)
	if err != nil {
		return err
	}
	a.printRequests(reqs)
	return nil
}

// act runs a state-changing call, journals the outcome and prints the
// resulting request.
func (a *App) act(ctx context.Context, command, id string, call func() (*models.MigrationRequest, error)) error {
	req, err := call()

	rec := &journal.Record{At: a.now(), Server: a.config.ServerURL, Command: command, RequestID: id, Outcome: "ok"}
	if req != nil {
		rec.RequestID = req.ID
	}
	if err != nil {
		rec.Outcome = err.Error()
	}
	if jerr := a.journal.Append(ctx, rec); jerr != nil {
		fmt.Fprintln(a.out, "warning: journal:", jerr)
	}

	if err != nil {
		return err
	}
	a.printRequest(req)
	return nil
}

func (a *App) mintToken(ctx context.Context, operator string) error {
	secret, err := GetSecret(a.out, "Server secret key")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	token, err := auth.GenerateToken(operator, secret, a.config.TokenValidity)
	if err != nil {
		return err
	}

	if err := a.meta.Set(ctx, metadata.KeyToken, token); err != nil {
		return err
	}
	if err := a.meta.Set(ctx, metadata.KeyOperator, operator); err != nil {
		return err
	}
	a.api.SetToken(token)
	a.operator = operator

	fmt.Fprintf(a.out, "token saved for %s, valid for %s\n", operator, a.config.TokenValidity)
	return nil
}

func (a *App) logout(ctx context.Context) error {
	if err := a.meta.Delete(ctx, metadata.KeyToken); err != nil {
		return err
	}
	if err := a.meta.Delete(ctx, metadata.KeyOperator); err != nil {
		return err
	}
	a.api.SetToken(a.config.Token)
	a.operator = ""
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *App) history(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return usage("history [n]")
		}
		limit = n
	}

	recs, err := a.journal.Latest(ctx, limit)
	if err != nil {
		return err
	}
	a.printHistory(recs)
	return nil
}
