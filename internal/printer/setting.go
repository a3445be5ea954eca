package printer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidSetting is returned for a spool setting the printer would reject.
var ErrInvalidSetting = errors.New("printer: invalid spool setting")

// SpoolSetting is the filament to load into a tray.
type SpoolSetting struct {
	AMSID         int    `json:"amsId"`
	TrayID        int    `json:"trayId"`
	Color         string `json:"color"`
	NozzleTempMin int    `json:"nozzle_temp_min"`
	NozzleTempMax int    `json:"nozzle_temp_max"`
	Type          string `json:"type"`
	InfoIdx       string `json:"tray_info_idx"`
	SettingID     string `json:"setting_id"`
	CaliIdx       string `json:"cali_idx"`
}

// Validate checks s.
func (s SpoolSetting) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("%w: filament type required", ErrInvalidSetting)
	}
	if s.TrayID < 0 || (s.AMSID != ExternalAMSID && s.TrayID > 3) {
		return fmt.Errorf("%w: tray %d", ErrInvalidSetting, s.TrayID)
	}
	if s.NozzleTempMin > s.NozzleTempMax {
		return fmt.Errorf("%w: nozzle temperature range %d-%d", ErrInvalidSetting, s.NozzleTempMin, s.NozzleTempMax)
	}
	if c := normalizeColor(s.Color); len(c) != 8 {
		return fmt.Errorf("%w: color %q", ErrInvalidSetting, s.Color)
	}
	return nil
}

// SettingForTray builds a setting for a global tray index: AMS n tray t
// is 4n+t, and 254 or above is the external holder.
func SettingForTray(index int) SpoolSetting {
	if index < 0 || index >= externalTrayID {
		return SpoolSetting{AMSID: ExternalAMSID, TrayID: externalTrayID}
	}
	return SpoolSetting{AMSID: index / 4, TrayID: index % 4}
}

// FromTag fills s from a spool tag's JSON content. Keys missing on the
// tag leave s unchanged.
func (s SpoolSetting) FromTag(data []byte) SpoolSetting {
	if !gjson.ValidBytes(data) {
		return s
	}
	if v := gjson.GetBytes(data, "color_hex"); v.Exists() {
		s.Color = v.String()
	}
	if v := gjson.GetBytes(data, "type"); v.Exists() {
		s.Type = v.String()
	}
	if v := gjson.GetBytes(data, "min_temp"); v.Exists() {
		s.NozzleTempMin = intField(v)
	}
	if v := gjson.GetBytes(data, "max_temp"); v.Exists() {
		s.NozzleTempMax = intField(v)
	}
	if v := gjson.GetBytes(data, "bambu_idx"); v.Exists() {
		s.InfoIdx = v.String()
	}
	if v := gjson.GetBytes(data, "bambu_setting_id"); v.Exists() {
		s.SettingID = v.String()
	}
	if v := gjson.GetBytes(data, "bambu_cali_idx"); v.Exists() {
		s.CaliIdx = v.String()
	}
	return s
}

// Command builds the ams_filament_setting request for s.
func (s SpoolSetting) Command(sequence int) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	cmd := map[string]any{
		"sequence_id":     strconv.Itoa(sequence),
		"command":         "ams_filament_setting",
		"ams_id":          s.AMSID,
		"tray_id":         s.TrayID,
		"tray_color":      normalizeColor(s.Color),
		"nozzle_temp_min": s.NozzleTempMin,
		"nozzle_temp_max": s.NozzleTempMax,
		"tray_type":       s.Type,
		"tray_info_idx":   s.InfoIdx,
		"setting_id":      s.SettingID,
	}
	data, err := json.Marshal(map[string]any{"print": cmd})
	if err != nil {
		return nil, fmt.Errorf("encoding filament setting: %w", err)
	}
	return data, nil
}

// CalibrationCommand selects the flow calibration profile for the tray.
// It returns nil when s has no calibration index.
func (s SpoolSetting) CalibrationCommand(sequence int) ([]byte, error) {
	if s.CaliIdx == "" {
		return nil, nil
	}
	caliIdx, err := strconv.Atoi(s.CaliIdx)
	if err != nil {
		return nil, fmt.Errorf("%w: calibration index %q", ErrInvalidSetting, s.CaliIdx)
	}
	data, err := json.Marshal(map[string]any{"print": map[string]any{
		"sequence_id":     strconv.Itoa(sequence),
		"command":         "extrusion_cali_sel",
		"filament_id":     s.InfoIdx,
		"nozzle_diameter": "0.4",
		"cali_idx":        caliIdx,
		"tray_id":         globalTray(s),
	}})
	if err != nil {
		return nil, fmt.Errorf("encoding calibration setting: %w", err)
	}
	return data, nil
}

func globalTray(s SpoolSetting) int {
	if s.AMSID == ExternalAMSID {
		return s.TrayID
	}
	return s.AMSID*4 + s.TrayID
}

// normalizeColor returns an upper-case RRGGBBAA string. A six-digit
// color gets a fully opaque alpha.
func normalizeColor(c string) string {
	c = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(c), "#"))
	if len(c) == 6 {
		c += "FF"
	}
	for _, r := range c {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return ""
		}
	}
	return c
}
