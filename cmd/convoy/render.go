package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/poiesic/convoy"
	"github.com/poiesic/convoy/compaction"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/ingestion"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	roleStyles = map[core.Role]lipgloss.Style{
		core.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		core.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135")),
		core.RoleSystem:    lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		core.RoleTool:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}

	snippetStyle = lipgloss.NewStyle().
			PaddingLeft(4).
			Foreground(lipgloss.Color("252"))
)

const dateLayout = "2006-01-02 15:04"

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func renderAccounts(w io.Writer, accounts []*core.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "no accounts registered")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Accounts (%d)", len(accounts))))
	for _, a := range accounts {
		line := titleStyle.Render(a.Key())
		if a.Email != "" {
			line += " " + a.Email
		}
		if a.Source != "" {
			line += " " + idStyle.Render(a.Source)
		}
		fmt.Fprintln(w, line)
	}
}

func renderPullResult(w io.Writer, r *ingestion.Result) {
	status := "finished"
	if r.Canceled {
		status = "canceled"
	}
	fmt.Fprintf(w, "%s %s in %s\n", headerStyle.Render("Pull"), status, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  completed %s  failed %s  skipped %s  messages %s  chunks %s\n",
		countStyle.Render(fmt.Sprint(r.Completed)),
		errorStyle.Render(fmt.Sprint(r.Failed)),
		countStyle.Render(fmt.Sprint(r.Skipped)),
		countStyle.Render(fmt.Sprint(r.Messages)),
		countStyle.Render(fmt.Sprint(r.Chunks)))
	for _, e := range r.Errors {
		fmt.Fprintln(w, "  "+errorStyle.Render(e.Error()))
	}
}

func renderSearchResults(w io.Writer, results []*core.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%2d. %s %s %s\n", i+1,
			titleStyle.Render(title),
			idStyle.Render(r.ConversationID),
			dateStyle.Render(fmt.Sprintf("score %.4f", r.Score)))
		if r.Snippet != "" {
			fmt.Fprintln(w, snippetStyle.Render(r.Snippet))
		}
	}
}

func renderConversationList(w io.Writer, convs []core.ConversationSummary) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "no conversations archived")
		return
	}
	for _, c := range convs {
		fmt.Fprintf(w, "%s  %s %s %s\n",
			dateStyle.Render(formatDate(c.UpdatedAt)),
			titleStyle.Render(c.Title),
			idStyle.Render(c.ProviderID+"/"+c.ID),
			countStyle.Render(fmt.Sprintf("%d msgs", c.MessageCount)))
	}
}

func renderConversation(w io.Writer, conv *core.Conversation, attachments []*core.DownloadedAttachment) {
	fmt.Fprintln(w, titleStyle.Render(conv.Title))
	meta := []string{conv.ProviderID + "/" + conv.ID, "updated " + formatDate(conv.UpdatedAt)}
	if conv.Model != "" {
		meta = append(meta, conv.Model)
	}
	if conv.ProjectName != "" {
		meta = append(meta, "project "+conv.ProjectName)
	}
	fmt.Fprintln(w, idStyle.Render(strings.Join(meta, " · ")))
	fmt.Fprintln(w)

	byMessage := make(map[string][]*core.DownloadedAttachment)
	for _, a := range attachments {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}

	tree := core.NewMessageTree(conv.Messages)
	tree.Walk(func(m *core.Message, depth int) bool {
		indent := strings.Repeat("  ", depth)
		style, ok := roleStyles[m.Role]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(w, "%s%s %s\n", indent, style.Render(string(m.Role)), dateStyle.Render(formatDate(m.CreatedAt)))
		body := lipgloss.NewStyle().PaddingLeft(len(indent) + 2).Render(m.Content)
		fmt.Fprintln(w, body)
		for _, a := range byMessage[m.ID] {
			fmt.Fprintf(w, "%s  %s %s\n", indent, idStyle.Render("attachment"), a.LocalPath)
		}
		return true
	})
	if cycles := tree.Cycles(); len(cycles) > 0 {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d messages in parent cycles not shown", len(cycles))))
	}
}

func renderStats(w io.Writer, s *convoy.Stats) {
	row := func(label string, v any) {
		fmt.Fprintf(w, "  %-16s %s\n", label, countStyle.Render(fmt.Sprint(v)))
	}
	fmt.Fprintln(w, headerStyle.Render("Archive"))
	row("accounts", s.Accounts)
	row("conversations", s.Conversations)
	row("messages", s.Messages)
	row("attachments", s.Attachments)
	row("embedding rows", s.EmbeddingRows)
	row("pending segments", s.Segments)
	row("index updated", formatDate(s.IndexUpdated))
	if len(s.Providers) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Providers"))
		for _, id := range slices.Sorted(maps.Keys(s.Providers)) {
			row(id, s.Providers[id])
		}
	}
	if s.LastPull != nil {
		fmt.Fprintln(w, headerStyle.Render("Last pull"))
		renderPullRecord(w, s.LastPull)
	}
}

func renderPullRecord(w io.Writer, p *core.PullRecord) {
	status := ""
	if p.Canceled {
		status = " " + errorStyle.Render("canceled")
	}
	fmt.Fprintf(w, "  %s %s completed %d failed %d skipped %d chunks %d%s\n",
		dateStyle.Render(formatDate(p.StartedAt)),
		idStyle.Render(p.RunID),
		p.Completed, p.Failed, p.Skipped, p.Chunks, status)
}

func renderHistory(w io.Writer, pulls []*core.PullRecord) {
	if len(pulls) == 0 {
		fmt.Fprintln(w, "no pulls recorded")
		return
	}
	for _, p := range pulls {
		renderPullRecord(w, p)
	}
}

func renderCompactionStatus(w io.Writer, status []compaction.ProviderStatus) {
	if len(status) == 0 {
		fmt.Fprintln(w, "no embeddings stored")
		return
	}
	for _, st := range status {
		consolidated := "no consolidated file"
		if st.Consolidated {
			consolidated = "consolidated"
		}
		fmt.Fprintf(w, "%s %s segments, %s rows, %s\n",
			titleStyle.Render(st.Provider),
			countStyle.Render(fmt.Sprint(st.SegmentCount)),
			countStyle.Render(fmt.Sprint(st.TotalRows)),
			dateStyle.Render(consolidated))
	}
}

func renderCompactionResults(w io.Writer, results []compaction.Result) {
	for _, r := range results {
		if r.Skipped {
			fmt.Fprintf(w, "%s nothing to compact\n", titleStyle.Render(r.Provider))
			continue
		}
		fmt.Fprintf(w, "%s merged %s segments into %s rows in %s\n",
			titleStyle.Render(r.Provider),
			countStyle.Render(fmt.Sprint(r.Segments)),
			countStyle.Render(fmt.Sprint(r.Rows)),
			r.Duration.Round(time.Millisecond))
	}
}
