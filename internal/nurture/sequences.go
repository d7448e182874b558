package nurture

import (
	"bytes"
	"fmt"
	"html/template"
)

// Sequence types form a small closed set; enrollment for any other type
// is rejected.
const (
	SeqQuickWin   = "quickwin"
	SeqOnboarding = "onboarding"
	SeqReengage   = "reengage"
)

// EmailData is what the per-offset templates render with.
type EmailData struct {
	Email     string
	Day       int
	LeadScore int
	Payload   map[string]string
}

// EmailTemplate is one scheduled email of a sequence.
type EmailTemplate struct {
	Subject string
	Body    *template.Template
}

// Sequence is a fixed ascending list of day offsets with an email per
// offset.
type Sequence struct {
	Type    string
	Offsets []int
	Emails  map[int]EmailTemplate
}

// NextOffset returns the smallest defined offset strictly greater than
// current and no later than elapsedDays, or false when nothing is due.
func (s Sequence) NextOffset(current, elapsedDays int) (int, bool) {
	for _, off := range s.Offsets {
		if off > current && off <= elapsedDays {
			return off, true
		}
	}
	return 0, false
}

// LastOffset is the final scheduled day; reaching it completes the
// subscription.
func (s Sequence) LastOffset() int {
	return s.Offsets[len(s.Offsets)-1]
}

// Render produces the subject and HTML body for one offset.
func (s Sequence) Render(offset int, data EmailData) (subject, body string, err error) {
	tmpl, ok := s.Emails[offset]
	if !ok {
		return "", "", fmt.Errorf("sequence %q has no email for day %d", s.Type, offset)
	}
	data.Day = offset
	var buf bytes.Buffer
	if err := tmpl.Body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render day %d email: %w", offset, err)
	}
	return tmpl.Subject, buf.String(), nil
}

// Library maps a sequence type to its definition.
type Library map[string]Sequence

func mustEmail(subject, body string) EmailTemplate {
	return EmailTemplate{
		Subject: subject,
		Body:    template.Must(template.New("").Parse(body)),
	}
}

// DefaultLibrary returns the built-in sequences.
func DefaultLibrary() Library {
	return Library{
		SeqQuickWin: {
			Type:    SeqQuickWin,
			Offsets: []int{0, 2, 5, 9, 14},
			Emails: map[int]EmailTemplate{
				0: mustEmail("Your first quick win",
					`<p>Hi {{.Email}},</p><p>Here is the fastest improvement most teams can ship this week.</p>`),
				2: mustEmail("Did you try it yet?",
					`<p>Two days in. The teams that act in the first 48 hours see the biggest lift.</p>`),
				5: mustEmail("The second lever",
					`<p>Once the first win lands, this is the next bottleneck to remove.</p>`),
				9: mustEmail("What the numbers say",
					`<p>A short case study with before/after figures from a team your size.</p>`),
				14: mustEmail("Where to go from here",
					`<p>You have the playbook. If you want help executing it, just reply.</p>`),
			},
		},
		SeqOnboarding: {
			Type:    SeqOnboarding,
			Offsets: []int{0, 1, 3, 7, 14},
			Emails: map[int]EmailTemplate{
				0: mustEmail("Welcome aboard",
					`<p>Hi {{.Email}}, welcome! Here is how to get set up in ten minutes.</p>`),
				1: mustEmail("Your first report",
					`<p>Day one: connect your data and pull your first report.</p>`),
				3: mustEmail("Three features most people miss",
					`<p>Power users lean on these three features. Worth five minutes.</p>`),
				7: mustEmail("One week in",
					`<p>A checklist to confirm your setup is capturing everything.</p>`),
				14: mustEmail("Ready for the advanced workflow?",
					`<p>Two weeks in, here is the workflow that compounds results.</p>`),
			},
		},
		SeqReengage: {
			Type:    SeqReengage,
			Offsets: []int{0, 3, 7},
			Emails: map[int]EmailTemplate{
				0: mustEmail("We noticed you looking",
					`<p>Picking up where you left off: here is what's changed since your last visit.</p>`),
				3: mustEmail("A question for you",
					`<p>What stopped you last time? Reply and we'll point you at the right resource.</p>`),
				7: mustEmail("Last one from us",
					`<p>We'll leave you alone after this. The door stays open.</p>`),
			},
		},
	}
}
