package notify

import (
	"fmt"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Composer renders localized message bodies for outbound notifications.
// Spanish (es-MX) is the default; English is the fallback for any other
// locale tag. Messages are registered in code so the binary is
// self-contained.
type Composer struct {
	bundle *i18n.Bundle
}

// NewComposer creates a composer with the built-in message catalog.
func NewComposer() *Composer {
	bundle := i18n.NewBundle(language.MustParse("es-MX"))

	bundle.AddMessages(language.MustParse("es-MX"),
		&i18n.Message{
			ID:    "panic.body",
			Other: "EMERGENCIA: {{.Name}} activó su botón de pánico. Ubicación: {{.MapsURL}}.",
		},
		&i18n.Message{
			ID:    "panic.nearest",
			Other: "Hospital más cercano: {{.Facility}}.",
		},
		&i18n.Message{
			ID:    "access.body",
			Other: "{{.Accessor}} consultó la ficha médica de emergencia de {{.Name}}.",
		},
		&i18n.Message{
			ID:    "panic.email_subject",
			Other: "Alerta de emergencia de {{.Name}}",
		},
		&i18n.Message{
			ID:    "access.email_subject",
			Other: "Acceso a la ficha médica de {{.Name}}",
		},
	)

	bundle.AddMessages(language.English,
		&i18n.Message{
			ID:    "panic.body",
			Other: "EMERGENCY: {{.Name}} triggered their panic button. Location: {{.MapsURL}}.",
		},
		&i18n.Message{
			ID:    "panic.nearest",
			Other: "Nearest hospital: {{.Facility}}.",
		},
		&i18n.Message{
			ID:    "access.body",
			Other: "{{.Accessor}} viewed the emergency medical profile of {{.Name}}.",
		},
		&i18n.Message{
			ID:    "panic.email_subject",
			Other: "Emergency alert from {{.Name}}",
		},
		&i18n.Message{
			ID:    "access.email_subject",
			Other: "Medical profile access for {{.Name}}",
		},
	)

	return &Composer{bundle: bundle}
}

// Body renders the message body for a send. The nearest-facility sentence
// and the facility phone list are appended only when present: an empty
// facility search must not break composition.
func (c *Composer) Body(p SendParams) string {
	loc := i18n.NewLocalizer(c.bundle, p.Locale)

	var b strings.Builder
	switch p.Event {
	case EventAccess:
		accessor := p.AccessorName
		if accessor == "" {
			accessor = "Alguien"
			if strings.HasPrefix(p.Locale, "en") {
				accessor = "Someone"
			}
		}
		b.WriteString(localize(loc, "access.body", map[string]interface{}{
			"Accessor": accessor,
			"Name":     p.PatientName,
		}))
	default:
		b.WriteString(localize(loc, "panic.body", map[string]interface{}{
			"Name":    p.PatientName,
			"MapsURL": fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", p.Lat, p.Lng),
		}))
		if p.NearestFacility != "" {
			b.WriteString(" ")
			b.WriteString(localize(loc, "panic.nearest", map[string]interface{}{
				"Facility": p.NearestFacility,
			}))
		}
		for _, f := range p.Facilities {
			if f.Phone == "" {
				continue
			}
			b.WriteString(fmt.Sprintf("\n%s: %s", f.Name, f.Phone))
		}
	}
	return b.String()
}

// EmailSubject renders the subject line for email sends.
func (c *Composer) EmailSubject(p SendParams) string {
	loc := i18n.NewLocalizer(c.bundle, p.Locale)
	id := "panic.email_subject"
	if p.Event == EventAccess {
		id = "access.email_subject"
	}
	return localize(loc, id, map[string]interface{}{"Name": p.PatientName})
}

func localize(loc *i18n.Localizer, id string, data map[string]interface{}) string {
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		return id
	}
	return msg
}
