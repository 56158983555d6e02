package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/client/repositories/journal"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
)

func (a *App) ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, a.now(), "ago", "from now")
}

// peer is the other side of a request.
func peer(r *models.MigrationRequest) string {
	if r.Direction == models.DirectionOutgoing {
		return r.TargetDomain
	}
	return r.SourceDomain
}

func (a *App) printRequests(reqs []*models.MigrationRequest) {
	if len(reqs) == 0 {
		fmt.Fprintln(a.out, "no migration requests")
		return
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ID", "DIRECTION", "USER", "PEER", "STATUS", "CREATED")
	for _, r := range reqs {
		table.AddRow(r.ID, r.Direction, r.UserName, peer(r), r.Status, a.ago(r.CreatedAt))
	}
	fmt.Fprintln(a.out, table)
}

func (a *App) printRequest(r *models.MigrationRequest) {
	table := uitable.New()
	table.Wrap = true
	table.MaxColWidth = 80

	table.AddRow("ID:", r.ID)
	table.AddRow("Direction:", r.Direction)
	table.AddRow("User:", r.UserName)
	table.AddRow("User ID:", r.UserID)
	if r.Email != "" {
		table.AddRow("Email:", r.Email)
	}
	table.AddRow("Source:", r.SourceDomain)
	if r.TargetDomain != "" {
		table.AddRow("Target:", r.TargetDomain)
	}
	table.AddRow("Status:", r.Status)
	if r.AcceptedBy != "" {
		table.AddRow("Accepted by:", r.AcceptedBy)
	}
	if r.RejectionReason != "" {
		table.AddRow("Rejection:", r.RejectionReason)
	}
	if r.ErrorMessage != "" {
		table.AddRow("Error:", r.ErrorMessage)
	}
	table.AddRow("Token expires:", a.ago(r.TokenExpiresAt))
	table.AddRow("Created:", a.ago(r.CreatedAt))
	if r.CompletedAt != nil {
		table.AddRow("Completed:", a.ago(*r.CompletedAt))
	}
	fmt.Fprintln(a.out, table)
}

func (a *App) printHistory(recs []*journal.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "no local history")
		return
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("WHEN", "SERVER", "COMMAND", "REQUEST", "OUTCOME")
	for _, r := range recs {
		table.AddRow(a.ago(r.At), r.Server, r.Command, r.RequestID, r.Outcome)
	}
	fmt.Fprintln(a.out, table)
}
