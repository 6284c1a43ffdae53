// Package output provides styled terminal output helpers (success, error,
// warning, plant and energy formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/sprout/internal/derive"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	energyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	statusStyles = map[derive.Status]lipgloss.Style{
		derive.StatusGrowing:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		derive.StatusHarvested: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		derive.StatusUprooted:  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeRejected     = "rejected"
	ErrCodeStorageFull  = "storage_full"
	ErrCodeSyncFailed   = "sync_failed"
	ErrCodeOffline      = "offline"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a status with color
func FormatStatus(s derive.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a status indicator with symbol
// e.g., "▲ growing", "✓ harvested", "✗ uprooted"
func StatusBadge(status derive.Status) string {
	symbols := map[derive.Status]string{
		derive.StatusGrowing:   "▲",
		derive.StatusHarvested: "✓",
		derive.StatusUprooted:  "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatAmount prints an energy amount without trailing zeros.
func FormatAmount(x float64) string {
	return strconv.FormatFloat(derive.Round(x, 2), 'f', -1, 64)
}

// EnergyBar renders available/capacity as a bar of the given width.
func EnergyBar(e derive.Energy, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if e.Capacity > 0 {
		filled = int(math.Round(e.Available / e.Capacity * float64(width)))
	}
	filled = min(max(filled, 0), width)
	bar := energyStyle.Render(strings.Repeat("█", filled)) + subtleStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %s/%s", bar, FormatAmount(e.Available), FormatAmount(e.Capacity))
}

// FormatPlantShort formats a plant in one line.
func FormatPlantShort(p derive.Plant) string {
	parts := []string{titleStyle.Render(p.ID)}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	parts = append(parts, subtleStyle.Render(p.Species), subtleStyle.Render(p.PlotID), FormatStatus(p.Status))
	if p.Waterings > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d×💧", p.Waterings)))
	}
	return strings.Join(parts, "  ")
}

// FormatPlantLong formats a plant with its children. note is the already
// rendered note text, if any.
func FormatPlantLong(p derive.Plant, children []derive.Plant, note string) string {
	var sb strings.Builder

	title := p.ID
	if p.Name != "" {
		title = fmt.Sprintf("%s: %s", p.ID, p.Name)
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Status: %s\n", FormatStatus(p.Status))
	fmt.Fprintf(&sb, "Species: %s | Plot: %s | Cost: %s\n", p.Species, p.PlotID, FormatAmount(p.Cost))
	if p.ParentID != "" {
		fmt.Fprintf(&sb, "Parent: %s\n", p.ParentID)
	}
	fmt.Fprintf(&sb, "Waterings: %d\n", p.Waterings)
	fmt.Fprintf(&sb, "Planted: %s | Updated: %s\n", FormatTimeAgo(p.PlantedAt), FormatTimeAgo(p.UpdatedAt))

	if note != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Note:"))
		sb.WriteString("\n")
		sb.WriteString(note)
		sb.WriteString("\n")
	}

	if len(children) > 0 {
		sb.WriteString(SectionHeader("children"))
		for _, c := range children {
			sb.WriteString("  ")
			sb.WriteString(FormatPlantShort(c))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// FormatUntil formats the time remaining until t, e.g. "in 3h 20m".
func FormatUntil(t, now time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("in %dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("in %dh %dm", hours, mins)
	default:
		return fmt.Sprintf("in %dm", mins)
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCHILDREN:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

// BulletList formats items as a bulleted list with optional indentation
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
