package search

import "deepagg/internal/domain"

const (
	StageStart     = "start"
	ReasonEmptyQ   = "empty_q"
	SecondaryDonor = "secondary"
)

type WarnPayload struct {
	Reason string `json:"reason"`
}

type StartPayload struct {
	Stage   string   `json:"stage"`
	Query   string   `json:"q"`
	Sources []string `json:"sources"`
	Enrich  string   `json:"enrich"`
}

type StagePayload struct {
	Stage string `json:"stage"`
	OK    bool   `json:"ok"`
}

type PreviewPayload struct {
	Donor string                `json:"donor"`
	Rows  []domain.CanonicalRow `json:"rows"`
}

type EnrichPayload struct {
	Donor  string   `json:"donor"`
	MPN    string   `json:"mpn"`
	MinRub *float64 `json:"min_rub"`
}

type DoneMeta struct {
	Sources  []string `json:"sources"`
	Enriched int      `json:"enriched"`
}

type DonePayload struct {
	Query string                `json:"q"`
	Rows  []domain.CanonicalRow `json:"rows"`
	Meta  DoneMeta              `json:"meta"`
}

func warnEvent(reason string) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventWarn, Payload: WarnPayload{Reason: reason}}
}

func noteEvent(payload any) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventNote, Payload: payload}
}

func enrichEvent(payload any) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventEnrich, Payload: payload}
}

func doneEvent(payload DonePayload) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventDone, Payload: payload}
}
