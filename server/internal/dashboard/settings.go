package dashboard

import (
	"strings"

	"github.com/skyway/adminboard/pkg/types"
)

// SetSettings replaces the settings served by Settings. Used on config reload.
func (s *Service) SetSettings(st types.Settings) {
	st.WhatsAppURL = whatsAppURL(st.WhatsApp)
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// Settings returns the business contact details and branding.
func (s *Service) Settings() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// whatsAppURL turns "+234 810 897 1777" into "https://wa.me/2348108971777".
func whatsAppURL(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "https://wa.me/" + b.String()
}
