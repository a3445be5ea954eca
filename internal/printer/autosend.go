package printer

import (
	"context"

	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/tag"
)

const changeBuffer = 8

// Subscriber is the part of the device registry AutoSend watches.
type Subscriber interface {
	Subscribe(buffer int) (<-chan device.Change, func())
}

// SpoolSetter loads a filament into a printer tray.
type SpoolSetter interface {
	SetSpool(SpoolSetting) error
}

// AutoSend pushes the filament of every freshly read spool tag to one tray.
type AutoSend struct {
	states  Subscriber
	printer SpoolSetter
	tray    int
	logger  Logger

	lastTag string
}

// NewAutoSend creates an AutoSend targeting the global tray index tray.
func NewAutoSend(states Subscriber, printer SpoolSetter, tray int) *AutoSend {
	return &AutoSend{states: states, printer: printer, tray: tray, logger: noopLogger{}}
}

// SetLogger sets the logger for the watcher.
func (a *AutoSend) SetLogger(logger Logger) {
	a.logger = logger
}

// Run watches state changes until ctx is done or the registry stops.
func (a *AutoSend) Run(ctx context.Context) error {
	changes, cancel := a.states.Subscribe(changeBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			a.handle(c)
		}
	}
}

func (a *AutoSend) handle(c device.Change) {
	if !c.Fields.Has(device.FieldTag) {
		return
	}
	s := c.State
	if s.TagState == device.TagIdle {
		a.lastTag = ""
		return
	}
	if s.TagState != device.TagReadSuccess || s.ActiveTagUUID == "" || s.ActiveTagUUID == a.lastTag {
		return
	}

	p := tag.Payload{TagUUID: s.ActiveTagUUID, Data: s.TagPayload}
	if p.IsLocation() || p.SpoolID() == "" {
		return
	}
	a.lastTag = s.ActiveTagUUID

	setting := SettingForTray(a.tray).FromTag(s.TagPayload)
	if err := a.printer.SetSpool(setting); err != nil {
		a.logger.Warn("autosend failed", "tag_uuid", s.ActiveTagUUID, "error", err)
	}
}
