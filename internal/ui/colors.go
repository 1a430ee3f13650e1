package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/irrigo/internal/notice"
)

var styles = NewPalette("#2E8B57", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title  lipgloss.Style
	ok     lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	help   lipgloss.Style
	label  lipgloss.Style
	tab    lipgloss.Style
	active lipgloss.Style
	panel  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title:  NewBold(t).MarginBottom(1),
		ok:     NewBold(s),
		err:    NewBold(e),
		warn:   NewStyle(w),
		help:   NewEm(h),
		label:  NewStyle(h).Width(16),
		tab:    NewStyle(h).Padding(0, 1),
		active: NewBold(t).Padding(0, 1).Underline(true),
		panel:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(h)).Padding(0, 1),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// forLevel picks the style a notice of the given level is rendered with.
func (p *Palette) forLevel(l notice.Level) lipgloss.Style {
	switch l {
	case notice.Success:
		return p.ok
	case notice.Warning:
		return p.warn
	case notice.Error:
		return p.err
	default:
		return p.help
	}
}
