package decomposer

import (
	"strings"
	"time"

	"github.com/jason-automation/jason-core/taskengine/plan"
)

// =============================================================================
// DOMAIN TEMPLATES
// =============================================================================

// template is one domain-specific plan builder. Templates are tried in
// order and the first whose trigger matches wins, so plans for recognized
// domains never depend on the language-model collaborator.
type template struct {
	Domain   string
	Triggers []string
	Build    func(rawGoal string, context map[string]any, now time.Time) []*plan.Task
}

// matches checks any trigger against the normalized goal.
func (t *template) matches(normalized string) bool {
	for _, trigger := range t.Triggers {
		if strings.Contains(normalized, trigger) {
			return true
		}
	}
	return false
}

// domainTemplates is the ordered template sequence. First match wins.
var domainTemplates = []*template{
	{
		Domain:   "travel",
		Triggers: []string{"holiday", "vacation", "trip", "travel", "flight", "hotel"},
		Build:    buildTravelPlan,
	},
	{
		Domain:   "research",
		Triggers: []string{"research", "homework", "essay", "study"},
		Build:    buildResearchPlan,
	},
	{
		Domain:   "media",
		Triggers: []string{"edit", "video", "photo", "crop", "trim"},
		Build:    buildMediaPlan,
	},
	{
		Domain:   "scheduling",
		Triggers: []string{"schedule", "meeting", "calendar", "reminder", "appointment"},
		Build:    buildSchedulingPlan,
	},
	{
		Domain:   "email",
		Triggers: []string{"email", "inbox", "reply"},
		Build:    buildEmailPlan,
	},
	{
		Domain:   "files",
		Triggers: []string{"organize", "files", "folder", "sort"},
		Build:    buildFilesPlan,
	},
	{
		Domain:   "analysis",
		Triggers: []string{"analyze", "draft", "write", "review", "compare", "summarize"},
		Build:    buildAnalysisPlan,
	},
}

// newTask is a small builder helper.
func newTask(name, description string, action *plan.Action, tags ...string) *plan.Task {
	return &plan.Task{
		ID:          plan.NewTaskID(),
		Name:        name,
		Description: description,
		Action:      action,
		Tags:        tags,
	}
}

// =============================================================================
// TRAVEL
// =============================================================================

func buildTravelPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	params := extractTripParams(rawGoal, context, now)

	searchPayload := map[string]any{}
	if params.Origin != "" {
		searchPayload["origin"] = params.Origin
	}
	if params.Destination != "" {
		searchPayload["destination"] = params.Destination
	}
	if params.DepartDate != "" {
		searchPayload["depart_date"] = params.DepartDate
	}
	if params.DurationDays > 0 {
		searchPayload["duration_days"] = params.DurationDays
	}
	if params.Currency != "" {
		searchPayload["currency"] = params.Currency
	}

	bookTask := newTask("Book selected flight", "Commit to the best flight option",
		&plan.Action{
			Kind:      plan.ActionKindWeb,
			Name:      "book_flight",
			Target:    "skyscanner.net",
			Payload:   searchPayload,
			RiskLevel: 0.8,
			Tags:      []string{"financial", "risky"},
		},
		"financial")
	// High-risk booking carries a safe degraded path.
	bookTask.Children = []*plan.Task{
		newTask("Probe alternative flight options", "Search alternate dates and carriers",
			&plan.Action{
				Kind:      plan.ActionKindWeb,
				Name:      "search_alternative_flights",
				Target:    "kayak.com",
				Payload:   searchPayload,
				RiskLevel: 0.2,
			}),
		newTask("Draft booking for manual review", "Prepare the booking details for the user to complete",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "draft_booking_review",
				Payload:   searchPayload,
				RiskLevel: 0.0,
			}),
	}

	return []*plan.Task{
		newTask("Analyze trip requirements",
			"Break down destination, dates, and budget from the goal", nil, "analysis"),
		newTask("Search flights", "Find flight options matching the trip parameters",
			&plan.Action{
				Kind:      plan.ActionKindWeb,
				Name:      "search_flights",
				Target:    "skyscanner.net",
				Payload:   searchPayload,
				RiskLevel: 0.2,
			}),
		newTask("Search accommodation", "Find places to stay for the trip dates",
			&plan.Action{
				Kind:      plan.ActionKindWeb,
				Name:      "search_accommodation",
				Target:    "booking.com",
				Payload:   searchPayload,
				RiskLevel: 0.2,
			}),
		newTask("Draft itinerary", "Outline a day-by-day itinerary", nil, "analysis"),
		bookTask,
		newTask("Confirm bookings with user", "Ask the user to confirm before finalizing",
			&plan.Action{
				Kind:      plan.ActionKindInteract,
				Name:      "confirm_bookings",
				Payload:   map[string]any{"question": "Confirm the selected flight and hotel?"},
				RiskLevel: 0.1,
			}),
	}
}

// =============================================================================
// RESEARCH
// =============================================================================

func buildResearchPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	return []*plan.Task{
		newTask("Frame research questions", "Identify what the goal needs answered", nil, "analysis"),
		newTask("Search sources", "Collect relevant sources on the topic",
			&plan.Action{
				Kind:      plan.ActionKindWeb,
				Name:      "search_sources",
				Target:    "google.com",
				Payload:   map[string]any{"query": rawGoal},
				RiskLevel: 0.1,
			}),
		newTask("Summarize findings", "Condense sources into key points", nil, "analysis"),
		newTask("Draft document", "Write up the findings",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "draft_document",
				Target:    "editor",
				Payload:   map[string]any{"topic": rawGoal},
				RiskLevel: 0.1,
			}),
		newTask("Share draft with user", "Surface the draft for review",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "share_draft",
				RiskLevel: 0.0,
			}),
	}
}

// =============================================================================
// MEDIA
// =============================================================================

func buildMediaPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	return []*plan.Task{
		newTask("Locate media file", "Find the file referenced by the goal",
			&plan.Action{
				Kind:      plan.ActionKindSystem,
				Name:      "locate_media",
				Payload:   map[string]any{"query": rawGoal},
				RiskLevel: 0.1,
			}),
		newTask("Open editor", "Open the media in the editing application",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "open_editor",
				Target:    "media-editor",
				RiskLevel: 0.1,
			}),
		newTask("Apply edits", "Perform the requested edit operations",
			&plan.Action{
				Kind:      plan.ActionKindUI,
				Name:      "apply_edits",
				Payload:   map[string]any{"instructions": rawGoal},
				RiskLevel: 0.3,
			}),
		newTask("Export and notify", "Export the result and tell the user",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "export_complete",
				RiskLevel: 0.0,
			}),
	}
}

// =============================================================================
// SCHEDULING
// =============================================================================

func buildSchedulingPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	when := extractDate(rawGoal, now)
	payload := map[string]any{"description": rawGoal}
	if when != "" {
		payload["date"] = when
	}

	return []*plan.Task{
		newTask("Check calendar availability", "Look for conflicts around the requested time",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "check_calendar",
				Target:    "calendar",
				Payload:   payload,
				RiskLevel: 0.1,
			}),
		newTask("Create calendar event", "Add the event or reminder",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "create_event",
				Target:    "calendar",
				Payload:   payload,
				RiskLevel: 0.2,
			}),
		newTask("Notify user", "Confirm the scheduled entry",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "schedule_confirmed",
				RiskLevel: 0.0,
			}),
	}
}

// =============================================================================
// EMAIL
// =============================================================================

func buildEmailPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	sendTask := newTask("Send email", "Send the drafted message",
		&plan.Action{
			Kind:      plan.ActionKindApp,
			Name:      "send_email",
			Target:    "mail",
			Payload:   map[string]any{"instructions": rawGoal},
			RiskLevel: 0.7,
			Tags:      []string{"risky"},
		})
	// Sending is irreversible, so keep a manual-review path.
	sendTask.Children = []*plan.Task{
		newTask("Save as draft for manual review", "Leave the message in drafts for the user",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "draft_saved",
				RiskLevel: 0.0,
			}),
	}

	return []*plan.Task{
		newTask("Open inbox", "Open the mail application",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "open_inbox",
				Target:    "mail",
				RiskLevel: 0.1,
			}),
		newTask("Draft message", "Compose the message per the goal",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "draft_message",
				Target:    "mail",
				Payload:   map[string]any{"instructions": rawGoal},
				RiskLevel: 0.2,
			}),
		sendTask,
	}
}

// =============================================================================
// FILES
// =============================================================================

func buildFilesPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	return []*plan.Task{
		newTask("Scan target directory", "Inventory the files to organize",
			&plan.Action{
				Kind:      plan.ActionKindSystem,
				Name:      "scan_directory",
				Payload:   map[string]any{"query": rawGoal},
				RiskLevel: 0.1,
			}),
		newTask("Plan folder structure", "Decide the target layout", nil, "analysis"),
		newTask("Move files", "Apply the new structure",
			&plan.Action{
				Kind:      plan.ActionKindSystem,
				Name:      "move_files",
				Payload:   map[string]any{"query": rawGoal},
				RiskLevel: 0.4,
			}),
		newTask("Report changes", "Summarize what moved where",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "organize_report",
				RiskLevel: 0.0,
			}),
	}
}

// =============================================================================
// GENERIC ANALYSIS / DRAFT
// =============================================================================

func buildAnalysisPlan(rawGoal string, context map[string]any, now time.Time) []*plan.Task {
	return []*plan.Task{
		newTask("Gather context", "Collect the inputs the goal refers to", nil, "analysis"),
		newTask("Produce draft", "Write the requested analysis or draft",
			&plan.Action{
				Kind:      plan.ActionKindApp,
				Name:      "produce_draft",
				Target:    "editor",
				Payload:   map[string]any{"topic": rawGoal},
				RiskLevel: 0.1,
			}),
		newTask("Share result", "Surface the result to the user",
			&plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "share_result",
				RiskLevel: 0.0,
			}),
	}
}
