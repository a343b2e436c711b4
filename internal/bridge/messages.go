package bridge

import (
	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/speech"
)

func SessionStateMessage(sessionID string, snap speech.SessionSnapshot) protocol.SessionState {
	return protocol.SessionState{
		Type:        protocol.TypeSessionState,
		SessionID:   sessionID,
		State:       snap.State.String(),
		ActiveText:  snap.ActiveText,
		Language:    string(snap.Language),
		VoiceName:   snap.VoiceName,
		UtteranceID: snap.UtteranceID,
		HasFollowUp: snap.HasFollowUp,
	}
}

// VoiceTableMessage lists entries in the fixed language order.
func VoiceTableMessage(sessionID string, table speech.PreferredVoiceTable, generation uint64) protocol.VoiceTable {
	entries := make([]protocol.VoiceTableEntry, 0, table.Len())
	for _, lang := range speech.SupportedLanguages() {
		sv, ok := table.Get(lang)
		if !ok {
			continue
		}
		entries = append(entries, protocol.VoiceTableEntry{
			Language:     string(lang),
			VoiceName:    sv.Voice.Name,
			VoiceID:      sv.Voice.ID,
			Locale:       sv.Voice.Locale,
			QualityScore: sv.QualityScore,
			Preferred:    sv.IsPreferredEngine,
		})
	}
	return protocol.VoiceTable{
		Type:       protocol.TypeVoiceTable,
		SessionID:  sessionID,
		Generation: generation,
		Entries:    entries,
	}
}
