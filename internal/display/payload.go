package display

import (
	"encoding/json"

	"plotwatch/internal/highlight"
)

// Payload is the wire form shared by the UDP and redis sinks. PlotNo is null
// when no parcel is highlighted.
type Payload struct {
	Type      string   `json:"type"`
	Seq       uint64   `json:"seq,omitempty"`
	PlotNo    *string  `json:"plot_no"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Changed   bool     `json:"changed,omitempty"`
	Alert     *Notice  `json:"alert,omitempty"`
}

func EventPayload(ev highlight.Event) Payload {
	p := Payload{Type: "highlight", Seq: ev.Seq, Kind: ev.Kind, Changed: ev.Changed}
	if ev.Matched() {
		id := ev.NewParcelID
		acc := ev.AccuracyM
		p.PlotNo = &id
		p.AccuracyM = &acc
	}
	return p
}

func AlertPayload(n Notice) Payload {
	return Payload{Type: "alert", Alert: &n}
}

func encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}
