package printer

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// ExternalAMSID is the AMS id the printer uses for the external spool holder.
const ExternalAMSID = 255

const externalTrayID = 254

// Tray is one filament slot as reported by the printer.
type Tray struct {
	ID            int    `json:"id"`
	InfoIdx       string `json:"tray_info_idx"`
	Type          string `json:"tray_type"`
	SubBrands     string `json:"tray_sub_brands"`
	Color         string `json:"tray_color"`
	NozzleTempMin int    `json:"nozzle_temp_min"`
	NozzleTempMax int    `json:"nozzle_temp_max"`
	SettingID     string `json:"setting_id"`
	CaliIdx       string `json:"cali_idx"`
}

// AMS is one filament unit and its trays.
type AMS struct {
	ID    int    `json:"ams_id"`
	Trays []Tray `json:"trays"`
}

// ParseReport extracts the AMS units from a printer report. It reports
// false when the message carries no AMS section; printers push partial
// updates and most of them do not include one.
func ParseReport(payload []byte) ([]AMS, bool) {
	if !gjson.ValidBytes(payload) {
		return nil, false
	}
	root := gjson.GetBytes(payload, "print")
	units := root.Get("ams.ams")
	external := root.Get("vt_tray")
	if !units.Exists() && !external.Exists() {
		return nil, false
	}

	var out []AMS
	units.ForEach(func(_, unit gjson.Result) bool {
		a := AMS{ID: intField(unit.Get("id"))}
		unit.Get("tray").ForEach(func(_, t gjson.Result) bool {
			a.Trays = append(a.Trays, parseTray(t))
			return true
		})
		out = append(out, a)
		return true
	})
	if external.Exists() {
		out = append(out, AMS{ID: ExternalAMSID, Trays: []Tray{parseTray(external)}})
	}
	return out, true
}

func parseTray(t gjson.Result) Tray {
	return Tray{
		ID:            intField(t.Get("id")),
		InfoIdx:       t.Get("tray_info_idx").String(),
		Type:          t.Get("tray_type").String(),
		SubBrands:     t.Get("tray_sub_brands").String(),
		Color:         t.Get("tray_color").String(),
		NozzleTempMin: intField(t.Get("nozzle_temp_min")),
		NozzleTempMax: intField(t.Get("nozzle_temp_max")),
		SettingID:     t.Get("setting_id").String(),
		CaliIdx:       t.Get("cali_idx").String(),
	}
}

// intField reads numbers the printer sends either as JSON numbers or as
// numeric strings.
func intField(r gjson.Result) int {
	if r.Type == gjson.String {
		n, err := strconv.Atoi(r.String())
		if err != nil {
			return 0
		}
		return n
	}
	return int(r.Int())
}
