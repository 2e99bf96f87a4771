// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// Aleutian palette.
var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleDanger  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)

// styler colors table cells when writing to a terminal and passes text
// through unchanged otherwise, so piped output and tests stay plain.
type styler struct {
	enabled bool
}

// newStyler enables color only for a terminal file and when NO_COLOR is
// unset.
func newStyler(w io.Writer) styler {
	f, ok := w.(*os.File)
	if !ok {
		return styler{}
	}
	if _, off := os.LookupEnv("NO_COLOR"); off {
		return styler{}
	}
	fd := f.Fd()
	return styler{enabled: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

func (s styler) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// risk colors an already padded cell by risk level.
func (s styler) risk(level graph.RiskLevel, cell string) string {
	switch level {
	case graph.RiskLow:
		return s.render(styleSuccess, cell)
	case graph.RiskMedium:
		return s.render(styleWarning, cell)
	case graph.RiskHigh:
		return s.render(styleError, cell)
	case graph.RiskCritical:
		return s.render(styleDanger, cell)
	default:
		return cell
	}
}

// status colors an already padded cell by change status.
func (s styler) status(status graph.ChangeStatus, cell string) string {
	switch status {
	case graph.ChangeApproved, graph.ChangeAutoApproved:
		return s.render(styleSuccess, cell)
	case graph.ChangePending:
		return s.render(styleWarning, cell)
	case graph.ChangeRejected:
		return s.render(styleError, cell)
	default:
		return cell
	}
}

func (s styler) health(healthy bool, cell string) string {
	if healthy {
		return s.render(styleSuccess, cell)
	}
	return s.render(styleError, cell)
}

func (s styler) muted(text string) string {
	return s.render(styleMuted, text)
}
