package main

import (
	"fmt"
	"strings"

	"chunkcast/pkg/announcer"
	"chunkcast/pkg/manifest"
	"chunkcast/pkg/registry"
	"chunkcast/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Style definitions
var (
	primaryColor   = lipgloss.Color("#FF79C6") // Pink
	secondaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor    = lipgloss.Color("#50FA7B") // Green
	warningColor   = lipgloss.Color("#FFB86C") // Orange
	dangerColor    = lipgloss.Color("#FF5555") // Red
	mutedColor     = lipgloss.Color("#6272A4") // Comment
	bgLightColor   = lipgloss.Color("#44475A") // Current Line
	fgColor        = lipgloss.Color("#F8F8F2") // Foreground

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	accentValueStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	warningValueStyle = lipgloss.NewStyle().
				Foreground(warningColor).
				Bold(true)

	dangerValueStyle = lipgloss.NewStyle().
				Foreground(dangerColor).
				Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	iconStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			MarginRight(1)
)

// createPanel creates a styled panel with title and content
func createPanel(title, icon, content string) string {
	titleLine := iconStyle.Render(icon) + titleStyle.Render(title)
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, "", content))
}

func field(label, value string, style lipgloss.Style) string {
	return labelStyle.Render(label+":") + " " + style.Render(value)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle.Copy().Foreground(fgColor)
		}).
		Headers(headers...)
}

// renderManifestPanel shows one received announcement.
func renderManifestPanel(a registry.Announcement) string {
	m := a.Manifest
	lines := []string{
		field("Filename", m.Filename, valueStyle),
		field("File Size", utils.FormatDataSize(m.FileSize), valueStyle),
		field("Number of Chunks", fmt.Sprintf("%d", m.NumberOfChunks), valueStyle),
		field("Full File Hash", string(m.FullFileHash), accentValueStyle),
		field("From", a.From.String(), valueStyle),
		field("Outcome", a.Outcome.String(), outcomeStyle(a.Outcome)),
		"",
		labelStyle.Render("Chunk Hashes:"),
	}
	for i, h := range m.ChunkHashes {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("  %3d ", i))+string(h))
	}

	return createPanel("RECEIVED MANIFEST", "📥", strings.Join(lines, "\n"))
}

// renderRegistryTable lists every stored file with its peers.
func renderRegistryTable(entries []registry.Entry) string {
	if len(entries) == 0 {
		return createPanel("STORED FILES", "🗂", mutedStyle.Render("No files registered yet"))
	}

	t := newTable("FILENAME", "SIZE", "CHUNKS", "FULL HASH", "PEERS", "ADDRESSES")
	for _, e := range entries {
		addrs := make([]string, 0, len(e.Peers))
		for _, p := range e.Peers {
			addrs = append(addrs, p.String())
		}

		peers := fmt.Sprintf("%d/%d", len(e.Peers), e.Capacity)
		if e.State == registry.StateFull {
			peers = warningValueStyle.Render(peers + " full")
		}

		t.Row(
			e.Filename,
			utils.FormatDataSize(e.FileSize),
			fmt.Sprintf("%d", e.NumberOfChunks),
			e.FullFileHash.Short(),
			peers,
			strings.Join(addrs, "\n"),
		)
	}

	return createPanel("STORED FILES", "🗂", t.Render())
}

// renderAnnounceReport summarises a chunker run.
func renderAnnounceReport(results []announcer.Result) string {
	if len(results) == 0 {
		return createPanel("ANNOUNCEMENTS", "📡", mutedStyle.Render("No files announced"))
	}

	sent := 0
	t := newTable("FILE", "SIZE", "CHUNKS", "FULL HASH", "STATUS")
	for _, r := range results {
		size, chunks, hash := "-", "-", "-"
		if r.Manifest != nil {
			size = utils.FormatDataSize(r.Manifest.FileSize)
			chunks = fmt.Sprintf("%d", r.Manifest.NumberOfChunks)
			hash = r.Manifest.FullFileHash.Short()
		}

		status := accentValueStyle.Render("✓ sent")
		if r.Err != nil {
			status = dangerValueStyle.Render("✗ " + r.Err.Error())
		} else {
			sent++
		}
		t.Row(r.File, size, chunks, hash, status)
	}

	summary := field("Announced", fmt.Sprintf("%d of %d", sent, len(results)), countStyle(sent, len(results)))
	return createPanel("ANNOUNCEMENTS", "📡", lipgloss.JoinVertical(lipgloss.Left, t.Render(), "", summary))
}

// renderVerifyReport shows the result of reassembling a manifest.
func renderVerifyReport(m *manifest.Manifest, err error) string {
	status := accentValueStyle.Render("✓ verified")
	if err != nil {
		status = dangerValueStyle.Render("✗ " + err.Error())
	}

	lines := []string{
		field("Filename", m.Filename, valueStyle),
		field("File Size", utils.FormatDataSize(m.FileSize), valueStyle),
		field("Number of Chunks", fmt.Sprintf("%d", m.NumberOfChunks), valueStyle),
		field("Full File Hash", string(m.FullFileHash), valueStyle),
		labelStyle.Render("Status:") + " " + status,
	}
	return createPanel("VERIFY", "🔎", strings.Join(lines, "\n"))
}

func outcomeStyle(o registry.Outcome) lipgloss.Style {
	switch o {
	case registry.OutcomeRegistered, registry.OutcomePeerAdded:
		return accentValueStyle
	case registry.OutcomeDropped:
		return warningValueStyle
	default:
		return valueStyle
	}
}

func countStyle(ok, total int) lipgloss.Style {
	switch {
	case ok == total:
		return accentValueStyle
	case ok == 0:
		return dangerValueStyle
	default:
		return warningValueStyle
	}
}
