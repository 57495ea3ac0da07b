package tui

import "followup/internal/model"

// Async message types for Bubble Tea commands.

type analysisCompleteMsg struct {
	report model.Report
	err    error
}

type progressMsg model.RunProgress

type actionResultMsg struct {
	action string
	err    error
}

type statusMsg string
