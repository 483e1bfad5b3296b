// Package extract normalizes heterogeneous lead records into the
// descriptive text profile consumed by the engagement scorer.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apexsales/leadscore/internal/model"
)

// NoActivitySentinel marks a profile whose lead has no message or note
// history.
const NoActivitySentinel = "No activity found"

// maxActivityItems caps how many messages and notes (each) are rendered,
// to bound prompt size.
const maxActivityItems = 10

// Profile renders one lead as a single descriptive text block. It is
// total over arbitrary partially-populated leads: every missing or
// malformed field degrades to an empty default, never an error.
func Profile(lead model.Lead) string {
	var b strings.Builder

	b.WriteString("Lead Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", lead.Name)

	if company := resolveCompany(lead); company != "" {
		fmt.Fprintf(&b, "- Company: %s\n", company)
	}
	if position := resolvePosition(lead); position != "" {
		fmt.Fprintf(&b, "- Position: %s\n", position)
	}

	phone, email := resolveContacts(lead)
	fmt.Fprintf(&b, "- Phone: %s\n", phone.Join("No phone"))
	fmt.Fprintf(&b, "- Email: %s\n", email.Join("No email"))

	if lead.Price > 0 {
		fmt.Fprintf(&b, "- Price: %d\n", lead.Price)
	}
	if name := lead.PipelineName(); name != "" {
		fmt.Fprintf(&b, "- Pipeline: %s\n", name)
	}
	if name := lead.StatusName(); name != "" {
		fmt.Fprintf(&b, "- Status: %s\n", name)
	}
	if tags := lead.TagNames(); len(tags) > 0 {
		fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(tags, ", "))
	}

	if fields := customFieldLines(lead); fields != "" {
		b.WriteString(fields)
	}

	b.WriteString("\n")
	b.WriteString(activitySection(lead))

	return b.String()
}

// resolveCompany picks the company name from the embedded company record,
// then the lead's own field, then the message history.
func resolveCompany(lead model.Lead) string {
	if lead.Embedded != nil && len(lead.Embedded.Companies) > 0 && lead.Embedded.Companies[0].Name != "" {
		return lead.Embedded.Companies[0].Name
	}
	if lead.CompanyName != "" {
		return lead.CompanyName
	}
	return scanHistory(lead, "company:")
}

// resolvePosition mirrors resolveCompany: embedded contact, own field,
// then history scan.
func resolvePosition(lead model.Lead) string {
	if lead.Embedded != nil && len(lead.Embedded.Contacts) > 0 && lead.Embedded.Contacts[0].Position != "" {
		return lead.Embedded.Contacts[0].Position
	}
	if lead.Position != "" {
		return lead.Position
	}
	return scanHistory(lead, "position:")
}

// scanHistory looks through message and note text for a "key: value"
// line and returns the first value found.
func scanHistory(lead model.Lead, key string) string {
	scan := func(text string) string {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToLower(line), key) {
				return strings.TrimSpace(line[len(key):])
			}
		}
		return ""
	}
	for _, m := range lead.Messages {
		if v := scan(m.Text); v != "" {
			return v
		}
	}
	for _, n := range lead.Notes {
		if v := scan(n.Body()); v != "" {
			return v
		}
	}
	return ""
}

// resolveContacts prefers the lead's own phone/email lists and falls
// back to the first embedded contact's.
func resolveContacts(lead model.Lead) (phone, email model.ContactList) {
	phone, email = lead.Phone, lead.Email
	if lead.Embedded != nil && len(lead.Embedded.Contacts) > 0 {
		contact := lead.Embedded.Contacts[0]
		if len(phone) == 0 {
			phone = contact.Phone
		}
		if len(email) == 0 {
			email = contact.Email
		}
	}
	return phone, email
}

func customFieldLines(lead model.Lead) string {
	var b strings.Builder
	for _, f := range lead.CustomFields {
		if f.FieldName == "" || len(f.Values) == 0 {
			continue
		}
		var vals []string
		for _, v := range f.Values {
			if v.Value == nil {
				continue
			}
			vals = append(vals, fmt.Sprintf("%v", v.Value))
		}
		if len(vals) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.FieldName, strings.Join(vals, ", "))
	}
	return b.String()
}

// activitySection renders message and note history chronologically, each
// capped at maxActivityItems newest entries.
func activitySection(lead model.Lead) string {
	messages := newest(lead.Messages, func(m model.Message) int64 { return m.CreatedAt })
	notes := newest(lead.Notes, func(n model.Note) int64 { return n.CreatedAt })

	if len(messages) == 0 && len(notes) == 0 {
		return "Communication Activity: " + NoActivitySentinel + "\n"
	}

	var b strings.Builder
	b.WriteString("Communication Activity:\n")

	if len(messages) > 0 {
		fmt.Fprintf(&b, "\nActivity Summary (%d events):\n", len(lead.Messages))
		for i, m := range messages {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, model.FormatDate(m.CreatedAt), m.Text)
		}
	}

	if len(notes) > 0 {
		fmt.Fprintf(&b, "\nNotes (%d notes):\n", len(lead.Notes))
		for i, n := range notes {
			text := n.Body()
			if text == "" {
				text = "No text"
			}
			fmt.Fprintf(&b, "%d. [%s] %q\n", i+1, model.FormatDate(n.CreatedAt), text)
		}
	}

	return b.String()
}

// newest returns up to maxActivityItems items in ascending time order,
// dropping the oldest overflow.
func newest[T any](items []T, at func(T) int64) []T {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return at(sorted[i]) < at(sorted[j])
	})
	if len(sorted) > maxActivityItems {
		sorted = sorted[len(sorted)-maxActivityItems:]
	}
	return sorted
}
