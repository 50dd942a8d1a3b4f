package conversation

import (
	"fmt"
	"strings"

	"github.com/manash/antika/pkg/models"
)

type phrases struct {
	greeting    string
	apology     string
	suggestions []string
}

var phrasebook = map[string]phrases{
	"turkish": {
		greeting: "Merhaba! Ben restorasyon asistanınız. \"%s\" hakkında bakım, temizlik veya onarım sorularınızı cevaplayabilirim.",
		apology:  "Üzgünüm, şu an cevap veremiyorum. Lütfen tekrar deneyin.",
		suggestions: []string{
			"Bu eseri nasıl temizlemeliyim?",
			"Saklama koşulları ne olmalı?",
			"Zamanla değeri artar mı?",
		},
	},
	"english": {
		greeting: "Hello! I'm your restoration assistant. I can answer your care, cleaning or repair questions about \"%s\".",
		apology:  "Sorry, I can't answer right now. Please try again.",
		suggestions: []string{
			"How should I clean this piece?",
			"What storage conditions does it need?",
			"Will its value increase over time?",
		},
	},
}

// phrasesFor falls back to English for languages without a phrasebook entry.
func phrasesFor(language string) phrases {
	if p, ok := phrasebook[strings.ToLower(strings.TrimSpace(language))]; ok {
		return p
	}
	return phrasebook["english"]
}

// SystemInstruction builds the instruction that seeds a chat about record.
func SystemInstruction(record *models.AnalysisRecord, language string) string {
	if language == "" {
		language = "Turkish"
	}

	var b strings.Builder
	b.WriteString("You are an expert antique restorer and conservator helping the owner of this item.\n\n")
	b.WriteString("Item under discussion:\n")
	fmt.Fprintf(&b, "- Title: %s\n", record.Title)
	fmt.Fprintf(&b, "- Estimated date: %s\n", record.EstimatedDate)
	fmt.Fprintf(&b, "- Origin: %s\n", record.Origin)
	fmt.Fprintf(&b, "- Style: %s\n", orUnknown(record.Style))
	fmt.Fprintf(&b, "- Key features: %s\n", orUnknown(strings.Join(record.KeyFeatures, ", ")))
	fmt.Fprintf(&b, "- Authenticity: %s\n\n", record.Authenticity())

	b.WriteString("Rules:\n")
	b.WriteString("- Answer conservatively. When unsure, say so.\n")
	b.WriteString("- Warn against interventions that can destroy value, such as varnishing or harsh chemical cleaning.\n")
	b.WriteString("- Recommend a professional conservator whenever a task carries risk to the piece.\n")
	fmt.Fprintf(&b, "- Keep answers concise and respond in %s.\n\n", language)

	b.WriteString("End every reply with exactly three short follow-up questions the owner might ask next, ")
	b.WriteString("as a JSON array of strings wrapped in this block:\n")
	fmt.Fprintf(&b, "%s[\"question 1\", \"question 2\", \"question 3\"]%s", suggestionsStart, suggestionsEnd)

	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
