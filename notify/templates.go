package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/lebenslotse/lifeplan/planner"
)

// RenderedEmail is a fully rendered reminder ready for the provider.
type RenderedEmail struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// renderBucketCap limits how many tasks a single bucket lists before
// collapsing into "… und N weitere".
const renderBucketCap = 10

var dueBuckets = []string{"heute", "morgen", "in 2 Tagen", "in 3 Tagen"}

// RenderTaskDueSoon renders the German due-soon reminder. Tasks are grouped
// by urgency bucket; dates print as DD.MM.YYYY.
func RenderTaskDueSoon(payload *DueSoonPayload) RenderedEmail {
	grouped := make(map[string][]DueSoonTask, len(dueBuckets))
	for _, task := range payload.Tasks {
		grouped[bucketFor(task.DueInDays)] = append(grouped[bucketFor(task.DueInDays)], task)
	}

	total := len(payload.Tasks)
	subject := fmt.Sprintf("%d Aufgaben bald fällig", total)
	if total == 1 {
		subject = "1 Aufgabe bald fällig"
	}

	var text strings.Builder
	text.WriteString("Hallo,\n\ndie folgenden Aufgaben stehen bald an:\n\n")
	var html strings.Builder
	html.WriteString("<p>Hallo,</p>\n<p>die folgenden Aufgaben stehen bald an:</p>\n")

	for _, bucket := range dueBuckets {
		tasks := grouped[bucket]
		if len(tasks) == 0 {
			continue
		}
		text.WriteString(bucket + ":\n")
		html.WriteString("<h3>" + bucket + "</h3>\n<ul>\n")
		for i, task := range tasks {
			if i == renderBucketCap {
				break
			}
			line := fmt.Sprintf("%s (%s)", task.Title, formatDateDE(task.DueDate))
			text.WriteString("- " + line + "\n")
			html.WriteString("<li>" + line + "</li>\n")
		}
		if extra := len(tasks) - renderBucketCap; extra > 0 {
			text.WriteString(fmt.Sprintf("- ... und %d weitere\n", extra))
			html.WriteString(fmt.Sprintf("<li>... und %d weitere</li>\n", extra))
		}
		text.WriteString("\n")
		html.WriteString("</ul>\n")
	}

	text.WriteString("Plan öffnen: " + payload.PlanURL + "\n")
	text.WriteString("Einstellungen: " + payload.SettingsURL + "\n")
	text.WriteString("Abmelden: " + payload.UnsubscribeURL + "\n")

	html.WriteString(fmt.Sprintf("<p><a href=%q>Plan öffnen</a></p>\n", payload.PlanURL))
	html.WriteString(fmt.Sprintf("<p><a href=%q>Benachrichtigungseinstellungen</a></p>\n", payload.SettingsURL))
	html.WriteString(fmt.Sprintf("<p><a href=%q>Abmelden</a></p>\n", payload.UnsubscribeURL))

	return RenderedEmail{
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}
}

// bucketFor maps days-until-due onto a rendering bucket. Anything past the
// due-soon window lands in "später", which is never rendered.
func bucketFor(dueInDays int) string {
	switch {
	case dueInDays <= 0:
		return "heute"
	case dueInDays == 1:
		return "morgen"
	case dueInDays == 2:
		return "in 2 Tagen"
	case dueInDays == 3:
		return "in 3 Tagen"
	default:
		return "später"
	}
}

// formatDateDE converts an ISO date to DD.MM.YYYY, falling back to the raw
// value when it does not parse.
func formatDateDE(isoDate string) string {
	t, err := time.Parse(planner.DateLayout, isoDate)
	if err != nil {
		return isoDate
	}
	return t.Format("02.01.2006")
}
